package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/semaphore"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Generator runs single-turn completions against one model. Concurrent calls are
// bounded by a semaphore and each call is cut off after timeout.
type Generator struct {
	llm     llms.Model
	model   string
	sem     *semaphore.Weighted
	timeout time.Duration
	opts    []llms.CallOption
	took    prometheus.Observer
}

// NewModel builds the langchaingo model for cfg.
func NewModel(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating LLM client")
	switch llmConfig.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		return openai.New(opts...)
	}
	return nil, fmt.Errorf("unknown llm provider %q", llmConfig.Provider)
}

func NewGenerator(llm llms.Model, llmConfig *config.LLMConfig, maxConcurrent int64, timeout time.Duration) *Generator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	var opts []llms.CallOption
	if llmConfig.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(llmConfig.Temperature))
	}
	if llmConfig.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(llmConfig.MaxTokens))
	}
	if len(llmConfig.StopWords) > 0 {
		opts = append(opts, llms.WithStopWords(llmConfig.StopWords))
	}
	return &Generator{
		llm:     llm,
		model:   llmConfig.Model,
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: timeout,
		opts:    opts,
	}
}

func (g *Generator) Model() string { return g.model }

// Instrument records the duration of every model call on h.
func (g *Generator) Instrument(h prometheus.Observer) { g.took = h }

// Generate sends prompt to the model once and returns the trimmed completion with any
// <think> blocks removed. opts are applied after the configured defaults.
func (g *Generator) Generate(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	const op = "llm.generate"
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", models.NewError(models.KindGeneration, op, fmt.Errorf("waiting for a free model slot: %w", err))
	}
	defer g.sem.Release(1)

	callOpts := append(append([]llms.CallOption{}, g.opts...), opts...)
	start := time.Now()
	completion, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, callOpts...)
	if g.took != nil {
		g.took.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", models.NewError(models.KindGeneration, op, err)
	}
	log.Debug().Str("model", g.model).Dur("took", time.Since(start)).Msg("Generated completion")

	return strings.TrimSpace(thinkRe.ReplaceAllString(completion, "")), nil
}
