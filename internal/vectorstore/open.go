package vectorstore

import (
	"context"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
	"pdf-rag/internal/vectorstore/chromemdb"
	"pdf-rag/internal/vectorstore/memory"
	"pdf-rag/internal/vectorstore/pgvector"
	"pdf-rag/internal/vectorstore/qdrant"
	"pdf-rag/internal/vectorstore/sqlite"
)

// Open returns the backend selected by cfg.VectorStore.Type. The caller owns the store
// and must Close it on shutdown.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	vs := cfg.VectorStore
	log.Info().Str("type", vs.Type).Msg("Opening vector store")

	var (
		store Store
		err   error
	)
	switch vs.Type {
	case "memory":
		store = memory.NewStore()
	case "chromem":
		store, err = chromemdb.NewVectorDBManager(vs.Chromem.Path, vs.Chromem.Collection, vs.Chromem.InMemory, vs.Chromem.Compress, cfg.RAG.EncryptionKey)
	case "pgvector":
		store, err = pgvector.Open(ctx, &vs.Database)
	case "qdrant":
		store, err = qdrant.Open(ctx, &vs.Qdrant)
	case "sqlite":
		store, err = sqlite.Open(ctx, vs.SQLite.Path)
	default:
		return nil, models.Errorf(models.KindConfig, "vectorstore.open", "unknown vector store type %q", vs.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
