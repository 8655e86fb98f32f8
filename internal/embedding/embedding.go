package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// Embedder is pinned to one model. Records written with it carry Model() so that
// queries embedded by a different model can be rejected.
type Embedder struct {
	impl  embeddings.Embedder
	model string
}

// New builds the embedder selected by cfg.Provider.
func New(cfg *config.LLMConfig) (*Embedder, error) {
	var (
		impl embeddings.Embedder
		err  error
	)
	switch cfg.Provider {
	case "ollama":
		impl, err = NewOllamaEmbedder(cfg)
	case "openai":
		impl, err = NewOpenAIEmbedder(cfg)
	case "hash":
		impl, err = embeddings.NewEmbedder(NewHashClient(cfg.Dimension))
	default:
		err = fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, models.NewError(models.KindConfig, "embedding.new", err)
	}
	return Wrap(impl, cfg.Model), nil
}

// Wrap pins an existing langchaingo embedder to model.
func Wrap(impl embeddings.Embedder, model string) *Embedder {
	return &Embedder{impl: impl, model: model}
}

// new ollama embedder
func NewOllamaEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

// NewOpenAIEmbedder talks to any OpenAI compatible endpoint (OpenRouter, LM Studio, vLLM).
func NewOpenAIEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating openai embedder")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

func (e *Embedder) Model() string { return e.model }

// EmbedQuery embeds a single question.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, models.NewError(models.KindEmbedding, "embedding.query", err)
	}
	if len(vec) == 0 {
		return nil, models.Errorf(models.KindEmbedding, "embedding.query", "model %s returned an empty vector", e.model)
	}
	return vec, nil
}

// EmbedDocuments embeds texts in one batch. Either every text gets a vector or an error is returned.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.documents"
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, models.NewError(models.KindEmbedding, op, err)
	}
	if len(vecs) != len(texts) {
		return nil, models.Errorf(models.KindEmbedding, op, "model %s returned %d vectors for %d texts", e.model, len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, models.Errorf(models.KindEmbedding, op, "model %s returned an empty vector for chunk %d", e.model, i)
		}
	}
	return vecs, nil
}
