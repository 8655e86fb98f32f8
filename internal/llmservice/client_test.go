package llmservice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

type stubModel struct {
	reply   string
	err     error
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
	prompts []string
	opts    llms.CallOptions
	mu      sync.Mutex
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.opts = llms.CallOptions{}
	for _, o := range options {
		o(&m.opts)
	}
	for _, msg := range messages {
		for _, p := range msg.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				m.prompts = append(m.prompts, tc.Text)
			}
		}
	}
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestGenerateTrimsAndStripsThink(t *testing.T) {
	m := &stubModel{reply: "  <think>let me see\nhmm</think>\n Paris is the capital.  \n"}
	g := NewGenerator(m, &config.LLMConfig{Model: "stub", MaxTokens: 64, Temperature: 0.1}, 1, time.Second)

	out, err := g.Generate(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital.", out)
	assert.Equal(t, []string{"What is the capital of France?"}, m.prompts)
}

func TestGenerateFailureIsTyped(t *testing.T) {
	g := NewGenerator(&stubModel{err: errors.New("model not loaded")}, &config.LLMConfig{Model: "stub"}, 1, time.Second)
	_, err := g.Generate(context.Background(), "hi")
	assert.True(t, models.IsKind(err, models.KindGeneration))
}

func TestGenerateTimeout(t *testing.T) {
	g := NewGenerator(&stubModel{delay: time.Second}, &config.LLMConfig{Model: "slow"}, 1, 20*time.Millisecond)
	_, err := g.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindGeneration))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateBoundsConcurrency(t *testing.T) {
	m := &stubModel{reply: "ok", delay: 20 * time.Millisecond}
	g := NewGenerator(m, &config.LLMConfig{Model: "stub"}, 2, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Generate(context.Background(), "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, m.maxSeen.Load(), int32(2))
}

func TestGenerateCallOptionsOverrideDefaults(t *testing.T) {
	m := &stubModel{reply: "Paris"}
	g := NewGenerator(m, &config.LLMConfig{Model: "stub", Temperature: 0.1, MaxTokens: 64}, 1, time.Second)

	_, err := g.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, m.opts.Temperature, 1e-9)
	assert.Empty(t, m.opts.StopWords)

	_, err = g.Generate(context.Background(), "hi",
		llms.WithTemperature(0.7), llms.WithStopWords([]string{"Question:", "\n\n"}))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, m.opts.Temperature, 1e-9)
	assert.Equal(t, []string{"Question:", "\n\n"}, m.opts.StopWords)
	assert.Equal(t, 64, m.opts.MaxTokens)
}

func TestGenerateObservesDuration(t *testing.T) {
	var seen []float64
	h := prometheus.ObserverFunc(func(v float64) { seen = append(seen, v) })
	g := NewGenerator(&stubModel{reply: "ok"}, &config.LLMConfig{Model: "stub"}, 1, time.Second)
	g.Instrument(h)

	_, err := g.Generate(context.Background(), "hi")
	require.NoError(t, err)
	_, err = NewGenerator(&stubModel{err: errors.New("down")}, &config.LLMConfig{Model: "stub"}, 1, time.Second).Generate(context.Background(), "hi")
	require.Error(t, err)

	require.Len(t, seen, 1)
	assert.GreaterOrEqual(t, seen[0], 0.0)
}
