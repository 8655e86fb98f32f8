package rag

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/vectorstore"
)

// DocumentParser turns uploaded bytes into text and chunks.
type DocumentParser interface {
	Extract(data []byte, filename string) (string, error)
	Chunks(data []byte, filename string) ([]models.Chunk, error)
}

// Embedder produces vectors with a single pinned model.
type Embedder interface {
	Model() string
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type IngestResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

// Ingestor is the write path: extract, chunk, embed and store.
type Ingestor struct {
	store    vectorstore.Store
	embedder Embedder
	parser   DocumentParser
	docs     keyedMutex
}

func NewIngestor(store vectorstore.Store, embedder Embedder, p DocumentParser) *Ingestor {
	if p == nil {
		p = parser.New(models.DefaultChunkSize, models.DefaultChunkOverlap)
	}
	return &Ingestor{store: store, embedder: embedder, parser: p}
}

// CheckEmbeddingModel fails with an embedding error when the store holds chunks written
// by any model other than model. An empty store accepts every model.
func CheckEmbeddingModel(ctx context.Context, store vectorstore.Store, model string) error {
	total, err := store.Count(ctx, nil)
	if err != nil || total == 0 {
		return err
	}
	pinned, err := store.Count(ctx, map[string]string{models.MetaEmbeddingModel: model})
	if err != nil {
		return err
	}
	if pinned != total {
		return models.Errorf(models.KindEmbedding, "rag.model",
			"store holds %d chunks embedded by a model other than %q; use a fresh store or re-index with the original model", total-pinned, model)
	}
	return nil
}

// Extract returns the document text without indexing it.
func (i *Ingestor) Extract(data []byte, filename string) (string, error) {
	return i.parser.Extract(data, filename)
}

// Ingest indexes one document. Either every chunk of the new version is stored or none
// is: embeddings are computed before the store is touched, the previous version is
// replaced, and a failed write removes whatever part of the batch landed. Writes to the
// same document are serialised so concurrent re-ingests never interleave.
func (i *Ingestor) Ingest(ctx context.Context, data []byte, scope, filename string) (IngestResult, error) {
	const op = "rag.ingest"
	if scope == "" || filename == "" {
		return IngestResult{}, models.Errorf(models.KindInvalidRequest, op, "scope and filename are required")
	}
	docID := models.DocumentID(scope, filename)
	start := time.Now()

	chunks, err := i.parser.Chunks(data, filename)
	if err != nil {
		return IngestResult{}, err
	}
	log.Debug().Str("document_id", docID).Int("chunks", len(chunks)).Msg("Chunked document")

	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Content
	}
	vectors, err := i.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return IngestResult{}, err
	}
	if len(vectors) != len(chunks) {
		return IngestResult{}, models.Errorf(models.KindEmbedding, op, "embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]models.Record, len(chunks))
	for n, c := range chunks {
		records[n] = models.Record{
			ID:      models.ChunkID(docID, c.Index),
			Content: c.Content,
			Metadata: map[string]string{
				models.MetaScope:          scope,
				models.MetaDocumentID:     docID,
				models.MetaFilename:       filename,
				models.MetaChunkIndex:     strconv.Itoa(c.Index),
				models.MetaEmbeddingModel: i.embedder.Model(),
			},
			Embedding: vectors[n],
		}
	}

	unlock := i.docs.Lock(docID)
	defer unlock()

	if err := CheckEmbeddingModel(ctx, i.store, i.embedder.Model()); err != nil {
		return IngestResult{}, err
	}
	docFilter := map[string]string{models.MetaDocumentID: docID}
	if _, err := i.store.Delete(ctx, docFilter); err != nil {
		return IngestResult{}, err
	}
	if err := i.store.Upsert(ctx, records...); err != nil {
		if _, cleanupErr := i.store.Delete(context.WithoutCancel(ctx), docFilter); cleanupErr != nil {
			log.Error().Err(cleanupErr).Str("document_id", docID).Msg("Error removing partially written document")
		}
		return IngestResult{}, err
	}

	log.Info().Str("document_id", docID).Int("chunks", len(records)).Dur("took", time.Since(start)).Msg("Ingested document")
	return IngestResult{DocumentID: docID, ChunkCount: len(records)}, nil
}

// Remove deletes every chunk of a document and returns how many were removed.
func (i *Ingestor) Remove(ctx context.Context, scope, filename string) (int, error) {
	if scope == "" || filename == "" {
		return 0, models.Errorf(models.KindInvalidRequest, "rag.remove", "scope and filename are required")
	}
	docID := models.DocumentID(scope, filename)
	unlock := i.docs.Lock(docID)
	defer unlock()
	return i.store.Delete(ctx, map[string]string{models.MetaDocumentID: docID})
}

// Processed reports whether any chunk of filename is stored, optionally within scope.
func (i *Ingestor) Processed(ctx context.Context, scope, filename string) (bool, error) {
	n, err := i.store.Count(ctx, models.Filter(map[string]string{
		models.MetaScope:    scope,
		models.MetaFilename: filename,
	}))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
