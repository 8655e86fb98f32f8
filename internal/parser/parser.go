package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"pdf-rag/internal/models"
)

// Parser extracts plain text from an uploaded document.
type Parser interface {
	Extract(data []byte, filename string) (string, error)
}

type ParserConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

var (
	errEmptyDocument = errors.New("document is empty")
	errNoText        = errors.New("no extractable text")

	docxTextRe  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	pptxTextRe  = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

func New(chunkSize, chunkOverlap int) *ParserConfig {
	if chunkSize <= 0 {
		chunkSize = models.DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = models.DefaultChunkOverlap
	}
	return &ParserConfig{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

// SupportedExtension reports whether Extract knows how to read files named like filename.
func SupportedExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".ods", ".md", ".txt":
		return true
	}
	return false
}

// Extract returns the plain text of data, choosing the reader by the file extension.
// Every failure is reported as an extraction error. Invalid UTF-8 sequences are replaced
// with U+FFFD so the text is safe to chunk and store.
func (p *ParserConfig) Extract(data []byte, filename string) (content string, err error) {
	const op = "parser.extract"
	if len(data) == 0 {
		return "", models.NewError(models.KindExtraction, op, errEmptyDocument)
	}

	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("filename", filename).Msg("Recovered while parsing document")
			content, err = "", models.Errorf(models.KindExtraction, op, "corrupt document %s: %v", filename, r)
		}
	}()

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		content, err = parsePDF(data)
	case ".docx":
		content, err = parseDOCX(data)
	case ".pptx":
		content, err = parsePPTX(data)
	case ".xlsx":
		content, err = parseXLSX(data)
	case ".xlsm":
		content, err = parseXLSM(data)
	case ".ods":
		content, err = parseODS(data)
	case ".md":
		content, err = parseMarkdown(data)
	case ".txt":
		content = string(data)
	default:
		return "", models.Errorf(models.KindExtraction, op, "unsupported file format: %q", ext)
	}
	if err != nil {
		return "", models.NewError(models.KindExtraction, op, fmt.Errorf("%s: %w", filename, err))
	}
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "\uFFFD")
	}
	if strings.TrimSpace(content) == "" {
		return "", models.NewError(models.KindExtraction, op, fmt.Errorf("%s: %w", filename, errNoText))
	}
	return content, nil
}

// Chunks extracts data and splits it with the configured size and overlap.
func (p *ParserConfig) Chunks(data []byte, filename string) ([]models.Chunk, error) {
	content, err := p.Extract(data, filename)
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	for i, c := range ChunkText(content, p.ChunkSize, p.ChunkOverlap) {
		chunks = append(chunks, models.Chunk{Content: c, Index: i})
	}
	return chunks, nil
}

func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var content strings.Builder
	fonts := make(map[string]*pdf.Font)
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		content.WriteString(pageText)
		if i < numPages {
			content.WriteString("\n")
		}
	}
	return content.String(), nil
}

func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	raw := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(raw, "</w:p>") {
		line := extractTextFromXML(p, docxTextRe, "")
		if strings.TrimSpace(line) != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

func parsePPTX(data []byte) (string, error) {
	f, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, text: extractTextFromXML(string(b), pptxTextRe, " ")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var out strings.Builder
	for _, s := range slides {
		if strings.TrimSpace(s.text) == "" {
			continue
		}
		out.WriteString(fmt.Sprintf("## Slide %d\n%s\n", s.num, strings.TrimSpace(s.text)))
	}
	return out.String(), nil
}

func parseXLSX(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, sheet := range f.Sheets {
		out.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			out.WriteString(strings.Join(cells, "\t"))
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

// parseXLSM reads macro-enabled workbooks; the macros themselves are ignored.
func parseXLSM(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var out strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		out.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

// parseODS streams content.xml of an OpenDocument spreadsheet. Cells are tab separated,
// one row per line, empty rows skipped.
func parseODS(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var content *zip.File
	for _, f := range zr.File {
		if f.Name == "content.xml" {
			content = f
			break
		}
	}
	if content == nil {
		return "", errors.New("content.xml not found")
	}
	rc, err := content.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var (
		out    strings.Builder
		row    []string
		cell   strings.Builder
		inCell bool
		paras  int
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				for _, a := range t.Attr {
					if a.Name.Local == "name" {
						out.WriteString(fmt.Sprintf("## Sheet: %s\n", a.Value))
					}
				}
			case "table-row":
				row = row[:0]
			case "table-cell", "covered-table-cell":
				inCell = true
				paras = 0
				cell.Reset()
			case "p":
				if inCell && paras > 0 {
					cell.WriteString("\n")
				}
				paras++
			case "s":
				if inCell {
					cell.WriteString(" ")
				}
			case "tab":
				if inCell {
					cell.WriteString("\t")
				}
			}
		case xml.CharData:
			if inCell {
				cell.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "table-cell", "covered-table-cell":
				row = append(row, cell.String())
				inCell = false
			case "table-row":
				line := strings.TrimRight(strings.Join(row, "\t"), "\t")
				if strings.TrimSpace(line) != "" {
					out.WriteString(line)
					out.WriteString("\n")
				}
			}
		}
	}
	return out.String(), nil
}

// parseMarkdown walks the goldmark AST and keeps only the text, one block per line.
func parseMarkdown(data []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(data))

	var out strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && !strings.HasSuffix(out.String(), "\n") {
				out.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			out.Write(node.Segment.Value(data))
			if node.SoftLineBreak() || node.HardLineBreak() {
				out.WriteString("\n")
			}
		case *ast.String:
			out.Write(node.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				out.Write(seg.Value(data))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func extractTextFromXML(xmlContent string, re *regexp.Regexp, sep string) string {
	var parts []string
	for _, m := range re.FindAllStringSubmatch(xmlContent, -1) {
		parts = append(parts, html.UnescapeString(m[1]))
	}
	return strings.Join(parts, sep)
}
