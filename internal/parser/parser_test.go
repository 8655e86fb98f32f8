package parser

import (
	"archive/zip"
	"bytes"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pdf-rag/internal/models"
)

func TestExtractText(t *testing.T) {
	p := New(0, 0)
	content, err := p.Extract([]byte("The capital of France is Paris."), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "The capital of France is Paris.", content)
}

func TestExtractFailures(t *testing.T) {
	p := New(1000, 200)
	cases := []struct {
		name     string
		data     []byte
		filename string
	}{
		{"empty pdf", nil, "empty.pdf"},
		{"zero bytes", []byte{}, "a.txt"},
		{"garbage pdf", []byte("this is definitely not a pdf"), "broken.pdf"},
		{"truncated pdf", []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog"), "truncated.pdf"},
		{"whitespace only", []byte("   \n\t "), "blank.txt"},
		{"unsupported", []byte("hello"), "image.png"},
		{"garbage docx", []byte("PK not really"), "a.docx"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Extract(tc.data, tc.filename)
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindExtraction), "got %v", err)
		})
	}
}

func TestExtractMarkdown(t *testing.T) {
	src := "# Geography\n\nThe capital of **France** is Paris.\n\n- Lyon\n- Marseille\n"
	content, err := New(0, 0).Extract([]byte(src), "geo.md")
	require.NoError(t, err)
	assert.Contains(t, content, "Geography")
	assert.Contains(t, content, "The capital of France is Paris.")
	assert.Contains(t, content, "Marseille")
	assert.NotContains(t, content, "**")
}

// zipOf builds an archive from name/body pairs.
func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractPPTX(t *testing.T) {
	data := zipOf(t, map[string]string{
		"ppt/slides/slide2.xml": `<p:sld><a:t>Second slide</a:t></p:sld>`,
		"ppt/slides/slide1.xml": `<p:sld><a:t>Hello</a:t><a:t xml:space="preserve">world &amp; more</a:t></p:sld>`,
		"ppt/presentation.xml":  `<p:presentation/>`,
	})

	content, err := New(0, 0).Extract(data, "deck.pptx")
	require.NoError(t, err)
	assert.Less(t, strings.Index(content, "Hello world & more"), strings.Index(content, "Second slide"))
}

func TestChunksCarryIndex(t *testing.T) {
	p := New(10, 2)
	chunks, err := p.Chunks([]byte(strings.Repeat("a", 25)), "a.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSupportedExtension(t *testing.T) {
	assert.True(t, SupportedExtension("A.PDF"))
	assert.True(t, SupportedExtension("notes.md"))
	assert.True(t, SupportedExtension("budget.xlsm"))
	assert.True(t, SupportedExtension("budget.ods"))
	assert.False(t, SupportedExtension("photo.jpg"))
}

func TestExtractPDF(t *testing.T) {
	data, err := os.ReadFile("testdata/paris.pdf")
	require.NoError(t, err)

	content, err := New(0, 0).Extract(data, "paris.pdf")
	require.NoError(t, err)
	assert.Contains(t, content, "The capital of France is Paris.")
	assert.Contains(t, content, "The Eiffel Tower was finished in 1889.")
}

func TestExtractDOCX(t *testing.T) {
	data := zipOf(t, map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`,
		"_rels/.rels":         `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:t>The capital of France </w:t></w:r><w:r><w:t xml:space="preserve">is Paris.</w:t></w:r></w:p>` +
			`<w:p></w:p>` +
			`<w:p><w:r><w:t>Fish &amp; chips</w:t></w:r></w:p>` +
			`</w:body></w:document>`,
	})

	content, err := New(0, 0).Extract(data, "report.docx")
	require.NoError(t, err)
	assert.Equal(t, "The capital of France is Paris.\nFish & chips", content)
}

func TestExtractXLSX(t *testing.T) {
	data := zipOf(t, map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`,
		"xl/workbook.xml": `<?xml version="1.0" encoding="UTF-8"?><workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">` +
			`<sheets><sheet name="Capitals" sheetId="1" r:id="rId1"/></sheets></workbook>`,
		"xl/_rels/workbook.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
			`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/></Relationships>`,
		"xl/sharedStrings.xml": `<?xml version="1.0" encoding="UTF-8"?><sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="4" uniqueCount="4">` +
			`<si><t>Country</t></si><si><t>Capital</t></si><si><t>France</t></si><si><t>Paris</t></si></sst>`,
		"xl/worksheets/sheet1.xml": `<?xml version="1.0" encoding="UTF-8"?><worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><dimension ref="A1:B2"/><sheetData>` +
			`<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c></row>` +
			`<row r="2"><c r="A2" t="s"><v>2</v></c><c r="B2" t="s"><v>3</v></c></row>` +
			`</sheetData></worksheet>`,
	})

	content, err := New(0, 0).Extract(data, "capitals.xlsx")
	require.NoError(t, err)
	assert.Contains(t, content, "## Sheet: Capitals")
	assert.Contains(t, content, "Country\tCapital")
	assert.Contains(t, content, "France\tParis")
}

func TestExtractXLSM(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Country"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Capital"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "France"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "Paris"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	content, err := New(0, 0).Extract(buf.Bytes(), "capitals.xlsm")
	require.NoError(t, err)
	assert.Contains(t, content, "## Sheet: Sheet1")
	assert.Contains(t, content, "France\tParis")
}

func TestExtractODS(t *testing.T) {
	data := zipOf(t, map[string]string{
		"mimetype": "application/vnd.oasis.opendocument.spreadsheet",
		"content.xml": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">` +
			`<office:body><office:spreadsheet><table:table table:name="Capitals">` +
			`<table:table-row><table:table-cell><text:p>Country</text:p></table:table-cell><table:table-cell><text:p>Capital</text:p></table:table-cell></table:table-row>` +
			`<table:table-row><table:table-cell/><table:table-cell/></table:table-row>` +
			`<table:table-row><table:table-cell><text:p>France</text:p></table:table-cell><table:table-cell><text:p>Paris<text:s/>(city)</text:p></table:table-cell></table:table-row>` +
			`</table:table></office:spreadsheet></office:body></office:document-content>`,
	})

	content, err := New(0, 0).Extract(data, "capitals.ods")
	require.NoError(t, err)
	assert.Equal(t, "## Sheet: Capitals\nCountry\tCapital\nFrance\tParis (city)\n", content)

	_, err = New(0, 0).Extract(zipOf(t, map[string]string{"mimetype": "x"}), "broken.ods")
	assert.True(t, models.IsKind(err, models.KindExtraction), "got %v", err)
}

func TestExtractReplacesInvalidUTF8(t *testing.T) {
	p := New(10, 3)
	content, err := p.Extract([]byte("abcdefghijklmno\xffxy"), "latin1.txt")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(content))
	assert.Equal(t, "abcdefghijklmno\uFFFDxy", content)
	assert.Equal(t, content, Reassemble(ChunkText(content, 10, 3), 3))

	chunks, err := p.Chunks([]byte("\xfe\xff caf\xe9"), "a.txt")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content))
	}
}
