package rag

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"pdf-rag/internal/models"
	"pdf-rag/internal/vectorstore"
)

// Generator is a single-turn language model call.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error)
}

// ChatOptions are the sampling settings for conversational answers: a warmer temperature,
// stopping before the model invents the next question.
func ChatOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(0.7),
		llms.WithStopWords([]string{"Question:", "\n\n"}),
	}
}

type AnswerConfig struct {
	TopK           int
	PromptTemplate string
}

// Query is one question. Filter keys are metadata keys; empty values are ignored.
// An empty PromptTemplate falls back to the configured one. Options are passed to the
// model call as is.
type Query struct {
	Question       string
	Filter         map[string]string
	PromptTemplate string
	Options        []llms.CallOption
}

// Answerer is the read path: embed the question, retrieve, render and generate.
type Answerer struct {
	store     vectorstore.Store
	embedder  Embedder
	generator Generator
	cfg       AnswerConfig
}

func NewAnswerer(store vectorstore.Store, embedder Embedder, generator Generator, cfg AnswerConfig) *Answerer {
	if cfg.TopK <= 0 {
		cfg.TopK = models.DefaultTopK
	}
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = models.DefaultPromptTemplate
	}
	return &Answerer{store: store, embedder: embedder, generator: generator, cfg: cfg}
}

func (a *Answerer) Answer(ctx context.Context, q Query) (*models.PromptResponse, error) {
	const op = "rag.answer"
	question := strings.TrimSpace(q.Question)
	if question == "" {
		return nil, models.Errorf(models.KindInvalidRequest, op, "question is required")
	}
	tmpl := q.PromptTemplate
	if tmpl == "" {
		tmpl = a.cfg.PromptTemplate
	}
	if err := ValidateTemplate(tmpl); err != nil {
		return nil, err
	}
	start := time.Now()

	queryEmbedding, err := a.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	filter := models.Filter(q.Filter)
	matches, err := a.store.Query(ctx, queryEmbedding, filter, a.cfg.TopK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, models.Errorf(models.KindNotFound, op, "no documents match %v", filter)
	}
	if err := CheckEmbeddingModel(ctx, a.store, a.embedder.Model()); err != nil {
		return nil, err
	}

	model := a.embedder.Model()
	texts := make([]string, len(matches))
	sources := make([]string, len(matches))
	for i, m := range matches {
		if got := m.Metadata[models.MetaEmbeddingModel]; got != model {
			return nil, models.Errorf(models.KindEmbedding, op,
				"chunk %s was embedded with %q but queries use %q; re-ingest the document", m.ID, got, model)
		}
		texts[i] = m.Content
		sources[i] = SourcePreview(m.Content)
	}

	prompt, err := RenderPrompt(tmpl, strings.Join(texts, models.ContextSeparator), question)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("chunks", len(matches)).Interface("filter", filter).Msg("Retrieved context")

	content, err := a.generator.Generate(ctx, prompt, q.Options...)
	if err != nil {
		return nil, err
	}

	log.Info().Int("chunks", len(matches)).Dur("took", time.Since(start)).Msg("Answered query")
	return &models.PromptResponse{
		Query:   question,
		Sources: sources,
		Content: content,
		Chunks:  matches,
	}, nil
}

// ValidateTemplate requires both the {context} and {question} placeholders.
func ValidateTemplate(tmpl string) error {
	for _, p := range []string{"{context}", "{question}"} {
		if !strings.Contains(tmpl, p) {
			return models.Errorf(models.KindInvalidRequest, "rag.template", "prompt template is missing %s", p)
		}
	}
	return nil
}

// RenderPrompt fills an f-string template. Braces in the context and question are
// not interpreted.
func RenderPrompt(tmpl, contextText, question string) (string, error) {
	pt := prompts.PromptTemplate{
		Template:       tmpl,
		InputVariables: []string{"context", "question"},
		TemplateFormat: prompts.TemplateFormatFString,
	}
	out, err := pt.Format(map[string]any{
		"context":  contextText,
		"question": question,
	})
	if err != nil {
		return "", models.NewError(models.KindInvalidRequest, "rag.template", err)
	}
	return out, nil
}

// SourcePreview is the first SourcePreviewLen runes of a chunk followed by "...".
func SourcePreview(content string) string {
	r := []rune(content)
	if len(r) > models.SourcePreviewLen {
		r = r[:models.SourcePreviewLen]
	}
	return string(r) + "..."
}
