package memory

import (
	"context"
	"errors"
	"sync"

	"pdf-rag/internal/models"
	"pdf-rag/internal/vectorstore/vecmath"
)

var errEmptyFilter = errors.New("delete requires a non-empty filter")

type entry struct {
	record models.Record
	seq    int64
}

// Store is an in-process vector store using brute-force cosine similarity.
// Writers take the lock exclusively, readers share it.
type Store struct {
	mu        sync.RWMutex
	dimension int
	seq       int64
	records   map[string]*entry
}

func NewStore() *Store {
	return &Store{records: make(map[string]*entry)}
}

func (s *Store) Upsert(_ context.Context, records ...models.Record) error {
	const op = "memory.upsert"
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	for _, r := range records {
		if r.ID == "" {
			return models.Errorf(models.KindStore, op, "record id is required")
		}
		if len(r.Embedding) == 0 {
			return models.Errorf(models.KindStore, op, "record %s has no embedding", r.ID)
		}
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if len(r.Embedding) != dim {
			return models.Errorf(models.KindStore, op, "record %s has dimension %d, store has %d", r.ID, len(r.Embedding), dim)
		}
	}
	s.dimension = dim

	for _, r := range records {
		rec := models.Record{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  vecmath.CopyMetadata(r.Metadata),
			Embedding: append([]float32(nil), r.Embedding...),
		}
		if e, ok := s.records[r.ID]; ok {
			e.record = rec
			continue
		}
		s.seq++
		s.records[r.ID] = &entry{record: rec, seq: s.seq}
	}
	return nil
}

func (s *Store) Query(_ context.Context, embedding []float32, filter map[string]string, topK int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(embedding) != s.dimension {
		return nil, models.Errorf(models.KindStore, "memory.query", "query has dimension %d, store has %d", len(embedding), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	var cands []vecmath.Candidate
	for _, e := range s.records {
		if !models.Matches(e.record.Metadata, filter) {
			continue
		}
		cands = append(cands, vecmath.Candidate{
			Result: models.SearchResult{
				ID:       e.record.ID,
				Content:  e.record.Content,
				Metadata: vecmath.CopyMetadata(e.record.Metadata),
				Score:    vecmath.Cosine(embedding, e.record.Embedding),
			},
			Seq: e.seq,
		})
	}
	return vecmath.TopK(cands, topK), nil
}

func (s *Store) Delete(_ context.Context, filter map[string]string) (int, error) {
	if len(filter) == 0 {
		return 0, models.NewError(models.KindStore, "memory.delete", errEmptyFilter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.records {
		if models.Matches(e.record.Metadata, filter) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Count(_ context.Context, filter map[string]string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.records {
		if models.Matches(e.record.Metadata, filter) {
			n++
		}
	}
	return n, nil
}

// Close drops every record.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*entry)
	s.dimension = 0
	return nil
}
