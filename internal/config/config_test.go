package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, models.DefaultChunkSize, cfg.RAG.ChunkSize)
	assert.Equal(t, models.DefaultChunkOverlap, cfg.RAG.ChunkOverlap)
	assert.Equal(t, models.DefaultTopK, cfg.RAG.TopK)
	assert.Equal(t, models.DefaultPromptTemplate, cfg.RAG.PromptTemplate)
	assert.Equal(t, 120*time.Second, cfg.RAG.GenerationTimeout)
	assert.Equal(t, int64(2), cfg.RAG.MaxConcurrentGenerations)
	assert.Equal(t, "nomic-embed-text", cfg.EmbedLLM.Model)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
embed_llm:
  provider: hash
  dimension: 64
inference_llm:
  provider: openai
  model: gpt-4o-mini
rag:
  chunk_size: 500
  chunk_overlap: 50
  generation_timeout: 30s
vector_store:
  type: qdrant
  qdrant:
    port: 6000
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "hash-64", cfg.EmbedLLM.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.InferenceLLM.Model)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 30*time.Second, cfg.RAG.GenerationTimeout)
	assert.Equal(t, "qdrant", cfg.VectorStore.Type)
	assert.Equal(t, 6000, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, "localhost", cfg.VectorStore.Qdrant.Host)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUPABASE_URL", "postgres://u@db:5432/rag")
	t.Setenv("SUPABASE_KEY", "secret")
	t.Setenv("PDFRAG_VECTOR_STORE", "pgvector")
	t.Setenv("QDRANT_PORT", "7000")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "pgvector", cfg.VectorStore.Type)
	assert.Equal(t, "postgres://u@db:5432/rag", cfg.VectorStore.Database.URL)
	assert.Equal(t, "secret", cfg.VectorStore.Database.Password)
	assert.Equal(t, 7000, cfg.VectorStore.Qdrant.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMalformed(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "rag: [unclosed"))
	assert.True(t, models.IsKind(err, models.KindConfig))
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		return cfg
	}
	cases := map[string]func(*Config){
		"overlap too large": func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
		"zero top k":        func(c *Config) { c.RAG.TopK = -1 },
		"unknown embedder":  func(c *Config) { c.EmbedLLM.Provider = "bert" },
		"unknown llm":       func(c *Config) { c.InferenceLLM.Provider = "hash" },
		"unknown store":     func(c *Config) { c.VectorStore.Type = "faiss" },
		"pgvector no url":   func(c *Config) { c.VectorStore.Type = "pgvector"; c.VectorStore.Database.URL = "" },
		"pgvector size mismatch": func(c *Config) {
			c.VectorStore.Type = "pgvector"
			c.VectorStore.Database.URL = "postgres://localhost/rag"
			c.EmbedLLM.Dimension = 384
			c.VectorStore.Database.VectorSize = 768
		},
		"qdrant size mismatch": func(c *Config) {
			c.VectorStore.Type = "qdrant"
			c.EmbedLLM.Dimension = 384
			c.VectorStore.Qdrant.VectorSize = 768
		},
		"short key": func(c *Config) {
			c.VectorStore.Type = "chromem"
			c.RAG.EncryptionKey = "short"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base(t)
			mutate(cfg)
			assert.True(t, models.IsKind(cfg.Validate(), models.KindConfig))
		})
	}
}

func TestVectorSizeFollowsEmbeddingDimension(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
embed_llm:
  provider: hash
  dimension: 64
vector_store:
  type: qdrant
`))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.VectorStore.Qdrant.VectorSize)
	assert.Equal(t, 64, cfg.VectorStore.Database.VectorSize)
	require.NoError(t, cfg.Validate())
}
