package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/vectorstore/vecmath"
)

const (
	seqKey  = "_seq"
	kindKey = "_kind"
	metaID  = "__meta__"
)

var errNoEmbeddingFunc = errors.New("documents must be embedded before they reach chromem")

// VectorDBManager encapsulates the chromem-go database operations.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	inMemory      bool
	compress      bool
	encryptionKey string
	filePath      string

	// chromem keeps no insertion order, so records carry a sequence in their metadata
	mu  sync.Mutex
	seq int64
}

// NewVectorDBManager opens a persistent database at dbPath, or an in-memory one that is
// imported from and exported to an encrypted file when encryptionKey is set.
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, models.NewError(models.KindStore, "chromem.open", fmt.Errorf("failed to create database: %w", err))
		}
	}

	m := &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		inMemory:      inMemory,
		compress:      compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(dbPath, collectionName+".chromem"),
	}

	if inMemory && encryptionKey != "" {
		if _, err := os.Stat(m.filePath); err == nil {
			if err := m.Import(); err != nil {
				return nil, err
			}
		}
	}

	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	m.seq = m.lastSeq(context.Background())
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, models.NewError(models.KindStore, "chromem.collection", fmt.Errorf("failed to create/get collection: %w", err))
	}
	m.collection = c
	return c, nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (m *VectorDBManager) Upsert(ctx context.Context, records ...models.Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]chromem.Document, 0, len(records)+1)
	for _, r := range records {
		md := make(map[string]string, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			md[k] = v
		}
		seq := m.seq + 1
		if prev, err := m.collection.GetByID(ctx, r.ID); err == nil {
			if s, err := strconv.ParseInt(prev.Metadata[seqKey], 10, 64); err == nil {
				seq = s
			}
		}
		m.seq = max(m.seq, seq)
		md[seqKey] = strconv.FormatInt(seq, 10)
		md[kindKey] = "chunk"
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  md,
			Embedding: r.Embedding,
		})
	}
	// the meta document records the dimension and the last sequence number across restarts
	docs = append(docs, chromem.Document{
		ID:        metaID,
		Content:   "meta",
		Metadata:  map[string]string{kindKey: "meta", seqKey: strconv.FormatInt(m.seq, 10)},
		Embedding: unit(len(records[0].Embedding)),
	})

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return models.NewError(models.KindStore, "chromem.upsert", fmt.Errorf("failed to add documents: %w", err))
	}
	return nil
}

// Query performs a similarity search restricted to filter. All matches are ranked here
// so that equal scores keep insertion order.
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, filter map[string]string, topK int) ([]models.SearchResult, error) {
	n := m.collection.Count()
	if topK <= 0 || n == 0 {
		return nil, nil
	}
	results, err := m.collection.QueryEmbedding(ctx, embedding, n, where(filter), nil)
	if err != nil {
		return nil, models.NewError(models.KindStore, "chromem.query", fmt.Errorf("failed to query by similarity: %w", err))
	}

	cands := make([]vecmath.Candidate, 0, len(results))
	for _, r := range results {
		seq, _ := strconv.ParseInt(r.Metadata[seqKey], 10, 64)
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k != seqKey && k != kindKey {
				md[k] = v
			}
		}
		cands = append(cands, vecmath.Candidate{
			Result: models.SearchResult{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: md,
				Score:    float64(r.Similarity),
			},
			Seq: seq,
		})
	}
	return vecmath.TopK(cands, topK), nil
}

func (m *VectorDBManager) Delete(ctx context.Context, filter map[string]string) (int, error) {
	const op = "chromem.delete"
	if len(filter) == 0 {
		return 0, models.Errorf(models.KindStore, op, "delete requires a non-empty filter")
	}
	ids, err := m.matchingIDs(ctx, filter)
	if err != nil {
		return 0, models.NewError(models.KindStore, op, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, models.NewError(models.KindStore, op, fmt.Errorf("failed to delete documents: %w", err))
	}
	return len(ids), nil
}

func (m *VectorDBManager) Count(ctx context.Context, filter map[string]string) (int, error) {
	ids, err := m.matchingIDs(ctx, filter)
	if err != nil {
		return 0, models.NewError(models.KindStore, "chromem.count", err)
	}
	return len(ids), nil
}

// matchingIDs lists the ids matching filter. chromem only filters inside a similarity
// query, so this asks for every document with a probe vector of the stored dimension.
func (m *VectorDBManager) matchingIDs(ctx context.Context, filter map[string]string) ([]string, error) {
	meta, err := m.collection.GetByID(ctx, metaID)
	if err != nil {
		// nothing was ever written
		return nil, nil
	}
	results, err := m.collection.QueryEmbedding(ctx, unit(len(meta.Embedding)), m.collection.Count(), where(filter), nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func unit(dim int) []float32 {
	v := make([]float32, dim)
	if dim > 0 {
		v[0] = 1
	}
	return v
}

func (m *VectorDBManager) lastSeq(ctx context.Context) int64 {
	meta, err := m.collection.GetByID(ctx, metaID)
	if err != nil {
		return 0
	}
	seq, _ := strconv.ParseInt(meta.Metadata[seqKey], 10, 64)
	return seq
}

// where scopes filter to chunk documents.
func where(filter map[string]string) map[string]string {
	w := make(map[string]string, len(filter)+1)
	for k, v := range filter {
		w[k] = v
	}
	w[kindKey] = "chunk"
	return w
}

// Export writes the collection to an encrypted file.
func (m *VectorDBManager) Export() error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting chromem collection")
	if err := os.MkdirAll(m.dbPath, 0o755); err != nil {
		return err
	}
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return models.NewError(models.KindStore, "chromem.export", fmt.Errorf("failed to export database: %w", err))
	}
	return nil
}

// Import loads a previously exported file.
func (m *VectorDBManager) Import() error {
	log.Debug().Str("file", m.filePath).Msg("Importing chromem collection")
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey); err != nil {
		return models.NewError(models.KindStore, "chromem.import", fmt.Errorf("failed to import database: %w", err))
	}
	return nil
}

// Close exports an in-memory database when an encryption key is configured.
// Persistent databases write through on every change.
func (m *VectorDBManager) Close() error {
	if m.inMemory && m.encryptionKey != "" {
		return m.Export()
	}
	return nil
}
