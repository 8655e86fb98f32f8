// Package storetest holds the behaviour every vector store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

// Store mirrors vectorstore.Store so backends can be tested without an import cycle.
type Store interface {
	Upsert(ctx context.Context, records ...models.Record) error
	Query(ctx context.Context, embedding []float32, filter map[string]string, topK int) ([]models.SearchResult, error)
	Delete(ctx context.Context, filter map[string]string) (int, error)
	Count(ctx context.Context, filter map[string]string) (int, error)
	Close() error
}

// Options toggles checks that a backend cannot honour.
type Options struct {
	// InsertionOrderTies is false for backends that do not break score ties by insertion order.
	InsertionOrderTies bool
}

func record(scope, filename string, index int, content string, vec ...float32) models.Record {
	docID := models.DocumentID(scope, filename)
	return models.Record{
		ID:      models.ChunkID(docID, index),
		Content: content,
		Metadata: map[string]string{
			models.MetaScope:      scope,
			models.MetaDocumentID: docID,
			models.MetaFilename:   filename,
			models.MetaChunkIndex: fmt.Sprint(index),
		},
		Embedding: vec,
	}
}

// Run exercises a fresh, empty store returned by open for every subtest.
func Run(t *testing.T, open func(t *testing.T) Store, opts Options) {
	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, record("c1", "a.pdf", 0, "first", 1, 0, 0)))
		require.NoError(t, s.Upsert(ctx, record("c1", "a.pdf", 0, "second", 0, 1, 0)))

		n, err := s.Count(ctx, map[string]string{models.MetaScope: "c1"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		res, err := s.Query(ctx, []float32{0, 1, 0}, nil, 5)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "second", res[0].Content)
		assert.InDelta(t, 1.0, res[0].Score, 1e-4)
	})

	t.Run("QueryOrdersBySimilarity", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx,
			record("c1", "a.pdf", 0, "x axis", 1, 0, 0),
			record("c1", "a.pdf", 1, "y axis", 0, 1, 0),
			record("c1", "a.pdf", 2, "mostly x", 0.9, 0.1, 0),
		))

		res, err := s.Query(ctx, []float32{1, 0, 0}, map[string]string{models.MetaScope: "c1"}, 2)
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "x axis", res[0].Content)
		assert.Equal(t, "mostly x", res[1].Content)
		assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
		assert.Equal(t, "c1/a.pdf#0", res[0].ID)
		assert.Equal(t, "a.pdf", res[0].Metadata[models.MetaFilename])
	})

	t.Run("QueryNeverLeavesFilterScope", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx,
			record("c1", "same.pdf", 0, "The capital of France is Paris.", 1, 0, 0),
			record("c2", "same.pdf", 0, "The capital of France is Paris.", 1, 0, 0),
			record("c2", "other.pdf", 0, "unrelated", 0, 0, 1),
		))

		res, err := s.Query(ctx, []float32{1, 0, 0}, map[string]string{models.MetaScope: "c2"}, 10)
		require.NoError(t, err)
		require.Len(t, res, 2)
		for _, r := range res {
			assert.Equal(t, "c2", r.Metadata[models.MetaScope])
		}

		res, err = s.Query(ctx, []float32{1, 0, 0}, map[string]string{models.MetaScope: "c2", models.MetaFilename: "other.pdf"}, 10)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "unrelated", res[0].Content)

		res, err = s.Query(ctx, []float32{1, 0, 0}, map[string]string{models.MetaScope: "c3"}, 10)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	if opts.InsertionOrderTies {
		t.Run("TiesFollowInsertionOrder", func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, s.Upsert(ctx, record("c1", "a.pdf", i, fmt.Sprint("chunk ", i), 1, 0, 0)))
			}
			res, err := s.Query(ctx, []float32{1, 0, 0}, nil, 5)
			require.NoError(t, err)
			require.Len(t, res, 5)
			for i, r := range res {
				assert.Equal(t, fmt.Sprint("chunk ", i), r.Content)
			}
		})
	}

	t.Run("DeleteByFilter", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx,
			record("c1", "a.pdf", 0, "a0", 1, 0, 0),
			record("c1", "a.pdf", 1, "a1", 0, 1, 0),
			record("c1", "b.pdf", 0, "b0", 0, 0, 1),
			record("c2", "a.pdf", 0, "other scope", 1, 0, 0),
		))

		n, err := s.Delete(ctx, map[string]string{models.MetaDocumentID: "c1/a.pdf"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.Count(ctx, map[string]string{models.MetaScope: "c1"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.Count(ctx, map[string]string{models.MetaScope: "c2"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Delete(ctx, map[string]string{models.MetaDocumentID: "c9/none.pdf"})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = s.Delete(ctx, nil)
		assert.True(t, models.IsKind(err, models.KindStore))
	})

	t.Run("ConcurrentReadersAndWriters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(2)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					assert.NoError(t, s.Upsert(ctx, record(fmt.Sprint("s", w), "doc.pdf", i, "text", 1, float32(i), 0)))
				}
			}(w)
			go func() {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					_, err := s.Query(ctx, []float32{1, 0, 0}, nil, 3)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		n, err := s.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 40, n)
	})
}
