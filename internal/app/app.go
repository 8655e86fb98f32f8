package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/storage"
	"pdf-rag/internal/vectorstore"
)

// App owns every long-lived component built from one configuration.
type App struct {
	Config   *config.Config
	Store    vectorstore.Store
	Embedder *embedding.Embedder
	Ingestor *rag.Ingestor
	Answerer *rag.Answerer
	Files    *storage.FileStore
	Metrics  *metrics.Metrics
}

// Build validates cfg and wires the components. Any failure here is a config error:
// the process should not start serving.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := rag.ValidateTemplate(cfg.RAG.PromptTemplate); err != nil {
		return nil, models.NewError(models.KindConfig, "app.build", err)
	}

	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}

	llm, err := llmservice.NewModel(&cfg.InferenceLLM)
	if err != nil {
		return nil, models.NewError(models.KindConfig, "app.build", err)
	}
	m := metrics.New()
	generator := llmservice.NewGenerator(llm, &cfg.InferenceLLM, cfg.RAG.MaxConcurrentGenerations, cfg.RAG.GenerationTimeout)
	generator.Instrument(m.GenerateTime)

	files, err := storage.NewFileStore(cfg.Storage.DocumentsDir)
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.Open(ctx, cfg)
	if err != nil {
		if models.KindOf(err) == "" {
			err = models.NewError(models.KindConfig, "app.build", err)
		}
		return nil, err
	}
	if err := rag.CheckEmbeddingModel(ctx, store, embedder.Model()); err != nil {
		_ = store.Close()
		return nil, models.NewError(models.KindConfig, "app.build", err)
	}

	p := parser.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	log.Info().
		Str("vector_store", cfg.VectorStore.Type).
		Str("embedding_model", embedder.Model()).
		Str("inference_model", generator.Model()).
		Int("chunk_size", p.ChunkSize).
		Int("chunk_overlap", p.ChunkOverlap).
		Msg("Components ready")

	return &App{
		Config:   cfg,
		Store:    store,
		Embedder: embedder,
		Ingestor: rag.NewIngestor(store, embedder, p),
		Answerer: rag.NewAnswerer(store, embedder, generator, rag.AnswerConfig{
			TopK:           cfg.RAG.TopK,
			PromptTemplate: cfg.RAG.PromptTemplate,
		}),
		Files:   files,
		Metrics: m,
	}, nil
}

func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
