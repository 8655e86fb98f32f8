package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/storage"
)

const defaultScope = "default"

type uploadResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

type processResponse struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

type QueryRequest struct {
	Question     string `json:"question" validate:"required"`
	ScopeID      string `json:"scope_id"`
	Filename     string `json:"filename"`
	CustomPrompt string `json:"custom_prompt"`
}

type ChatRequest struct {
	Message string `json:"message" validate:"required"`
	ClassID string `json:"class_id"`
}

type answerResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

type refreshFailure struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

type refreshResponse struct {
	Documents int              `json:"documents"`
	Chunks    int              `json:"chunks"`
	Failed    []refreshFailure `json:"failed"`
}

// readUpload returns the sanitized name and the bytes of the multipart "file" field.
func (s *Server) readUpload(c echo.Context) (string, []byte, error) {
	const op = "server.upload"
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, models.Errorf(models.KindInvalidRequest, op, "multipart field \"file\" is required: %v", err)
	}
	if s.cfg.MaxUploadBytes > 0 && fh.Size > s.cfg.MaxUploadBytes {
		return "", nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the upload limit of %d bytes", s.cfg.MaxUploadBytes))
	}
	name := filepath.Base(fh.Filename)
	if err := storage.ValidName(name); err != nil {
		return "", nil, err
	}
	if !parser.SupportedExtension(name) {
		return "", nil, models.Errorf(models.KindExtraction, op, "unsupported file format: %q", filepath.Ext(name))
	}
	data, err := readFile(fh)
	if err != nil {
		return "", nil, models.NewError(models.KindInvalidRequest, op, err)
	}
	return name, data, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) upload(c echo.Context) error {
	filename, data, err := s.readUpload(c)
	if err != nil {
		return err
	}
	scope := c.FormValue("scope_id")
	if scope == "" {
		scope = c.FormValue("class_id")
	}
	if scope == "" {
		scope = defaultScope
	}
	if err := storage.ValidName(scope); err != nil {
		return err
	}

	ctx := c.Request().Context()
	start := time.Now()
	res, err := s.Ingestor.Ingest(ctx, data, scope, filename)
	s.Metrics.ObserveIngest(start, res.ChunkCount, string(models.KindOf(err)))
	if err != nil {
		return err
	}

	if err := s.Files.Save(scope, filename, data); err != nil {
		if _, rmErr := s.Ingestor.Remove(ctx, scope, filename); rmErr != nil {
			log.Error().Err(rmErr).Str("document_id", res.DocumentID).Msg("Error removing chunks of unsaved document")
		}
		return err
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Status:     "success",
		Message:    "Successfully processed " + filename,
		DocumentID: res.DocumentID,
		ChunkCount: res.ChunkCount,
	})
}

func (s *Server) processPDF(c echo.Context) error {
	filename, data, err := s.readUpload(c)
	if err != nil {
		return err
	}
	content, err := s.Ingestor.Extract(data, filename)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, processResponse{Filename: filename, Text: content})
}

func (s *Server) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return models.Errorf(models.KindInvalidRequest, "server.bind", "malformed request body: %v", err)
	}
	return c.Validate(req)
}

func (s *Server) query(c echo.Context) error {
	var req QueryRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.answer(c, rag.Query{
		Question: req.Question,
		Filter: map[string]string{
			models.MetaScope:    req.ScopeID,
			models.MetaFilename: req.Filename,
		},
		PromptTemplate: req.CustomPrompt,
	})
}

func (s *Server) chat(c echo.Context) error {
	var req ChatRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.answer(c, rag.Query{
		Question:       req.Message,
		Filter:         map[string]string{models.MetaScope: req.ClassID},
		PromptTemplate: models.ChatPromptTemplate,
		Options:        rag.ChatOptions(),
	})
}

func (s *Server) answer(c echo.Context, q rag.Query) error {
	start := time.Now()
	resp, err := s.Answerer.Answer(c.Request().Context(), q)
	s.Metrics.ObserveQuery(start, string(models.KindOf(err)))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, answerResponse{Response: resp.Content, Sources: resp.Sources})
}

func (s *Server) status(c echo.Context) error {
	ok, err := s.Ingestor.Processed(c.Request().Context(), c.QueryParam("scope_id"), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"is_processed": ok})
}

func (s *Server) deleteDocument(c echo.Context) error {
	scope, name := c.Param("scope"), c.Param("name")
	if err := storage.ValidName(scope); err != nil {
		return err
	}
	if err := storage.ValidName(name); err != nil {
		return err
	}
	n, err := s.Ingestor.Remove(c.Request().Context(), scope, name)
	if err != nil {
		return err
	}
	if err := s.Files.Delete(scope, name); err != nil {
		return err
	}
	log.Info().Str("document_id", models.DocumentID(scope, name)).Int("chunks", n).Msg("Deleted document")
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

// refreshDocuments re-indexes every stored original. A failing document does not stop
// the others; it is reported in the response.
func (s *Server) refreshDocuments(c echo.Context) error {
	ctx := c.Request().Context()
	files, err := s.Files.List()
	if err != nil {
		return err
	}

	resp := refreshResponse{Failed: []refreshFailure{}}
	for _, f := range files {
		docID := models.DocumentID(f.Scope, f.Filename)
		data, err := s.Files.Read(f.Scope, f.Filename)
		if err == nil {
			var res rag.IngestResult
			start := time.Now()
			res, err = s.Ingestor.Ingest(ctx, data, f.Scope, f.Filename)
			s.Metrics.ObserveIngest(start, res.ChunkCount, string(models.KindOf(err)))
			if err == nil {
				resp.Documents++
				resp.Chunks += res.ChunkCount
				continue
			}
		}
		log.Warn().Err(err).Str("document_id", docID).Msg("Error refreshing document")
		resp.Failed = append(resp.Failed, refreshFailure{DocumentID: docID, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}
