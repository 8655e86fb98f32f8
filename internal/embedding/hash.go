package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashClient is an offline embedding client using the hashing trick over lower-cased
// word tokens. It needs no model server, which makes it useful for development and tests.
// It satisfies embeddings.EmbedderClient.
type HashClient struct {
	dimension int
}

func NewHashClient(dimension int) *HashClient {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashClient{dimension: dimension}
}

func (c *HashClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = c.embed(t)
	}
	return out, nil
}

func (c *HashClient) embed(text string) []float32 {
	vec := make([]float32, c.dimension)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vec[int(sum%uint32(c.dimension))] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
