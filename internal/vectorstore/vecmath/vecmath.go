package vecmath

import (
	"math"
	"sort"

	"pdf-rag/internal/models"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector
// or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Candidate is a scored result plus the insertion sequence used to break ties.
type Candidate struct {
	Result models.SearchResult
	Seq    int64
}

// TopK orders candidates by descending score, then ascending Seq, and keeps the first k.
func TopK(cands []Candidate, k int) []models.SearchResult {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Result.Score != cands[j].Result.Score {
			return cands[i].Result.Score > cands[j].Result.Score
		}
		return cands[i].Seq < cands[j].Seq
	})
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]models.SearchResult, 0, k)
	for _, c := range cands[:k] {
		out = append(out, c.Result)
	}
	return out
}

// CopyMetadata returns an independent copy of m.
func CopyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
