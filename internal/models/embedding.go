package models

import "strconv"

// Metadata keys written on every chunk record.
const (
	MetaScope          = "scope"
	MetaDocumentID     = "document_id"
	MetaFilename       = "filename"
	MetaChunkIndex     = "chunk_index"
	MetaEmbeddingModel = "embedding_model"
)

// Chunk represents a span of extracted text with its position in the document
type Chunk struct {
	Content string
	Index   int
}

// Record is a single embedded chunk as held by a vector store.
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// SearchResult is a record returned from a similarity query.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// DocumentID joins scope and filename into the id shared by all chunks of a document.
func DocumentID(scope, filename string) string {
	return scope + "/" + filename
}

// ChunkID is the stable id of the index-th chunk of a document.
func ChunkID(documentID string, index int) string {
	return documentID + "#" + strconv.Itoa(index)
}

// Filter returns a copy of m restricted to non-empty values.
func Filter(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Matches reports whether metadata satisfies every key of filter.
func Matches(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

type PromptResponse struct {
	Query   string
	Sources []string
	Content string
	Chunks  []SearchResult
}
