package vecmath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pdf-rag/internal/models"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
}

func TestTopKTiesByInsertionOrder(t *testing.T) {
	cands := []Candidate{
		{Result: models.SearchResult{ID: "late", Score: 0.5}, Seq: 3},
		{Result: models.SearchResult{ID: "best", Score: 0.9}, Seq: 2},
		{Result: models.SearchResult{ID: "early", Score: 0.5}, Seq: 1},
	}
	out := TopK(cands, 10)
	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"best", "early", "late"}, ids)
	assert.Len(t, TopK(cands, 2), 2)
	assert.Empty(t, TopK(nil, 3))
}
