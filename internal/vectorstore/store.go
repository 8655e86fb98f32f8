package vectorstore

import (
	"context"

	"pdf-rag/internal/models"
)

// Store holds chunk records and answers filtered nearest-neighbour queries.
// Every backend must honour the filter exactly: a record whose metadata does not match
// every key of the filter is never returned, counted or deleted.
type Store interface {
	// Upsert writes records, replacing any existing record with the same ID.
	Upsert(ctx context.Context, records ...models.Record) error
	// Query returns at most topK records matching filter, most similar first.
	Query(ctx context.Context, embedding []float32, filter map[string]string, topK int) ([]models.SearchResult, error)
	// Delete removes every record matching filter and reports how many were removed.
	// An empty filter is rejected.
	Delete(ctx context.Context, filter map[string]string) (int, error)
	// Count reports how many records match filter.
	Count(ctx context.Context, filter map[string]string) (int, error)
	Close() error
}
