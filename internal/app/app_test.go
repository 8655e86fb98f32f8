package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.EmbedLLM = config.LLMConfig{Provider: "hash", Model: "hash-64", Dimension: 64}
	cfg.VectorStore.Type = "sqlite"
	cfg.VectorStore.SQLite.Path = filepath.Join(dir, "chunks.db")
	cfg.Storage.DocumentsDir = filepath.Join(dir, "documents")
	return cfg
}

func TestBuildWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Ingestor.Ingest(context.Background(), []byte("The capital of France is Paris."), "c1", "france.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunkCount)
	assert.Equal(t, "hash-64", a.Embedder.Model())

	n, err := a.Store.Count(context.Background(), map[string]string{models.MetaScope: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorStore.Type = "faiss"
	_, err := Build(context.Background(), cfg)
	assert.True(t, models.IsKind(err, models.KindConfig))

	cfg = testConfig(t)
	cfg.RAG.PromptTemplate = "Answer: {question}"
	_, err = Build(context.Background(), cfg)
	assert.True(t, models.IsKind(err, models.KindConfig))
}

func TestBuildRefusesStoreOfAnotherEmbeddingModel(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	_, err = a.Ingestor.Ingest(context.Background(), []byte("The capital of France is Paris."), "c1", "france.txt")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	cfg.EmbedLLM.Model = "hash-64-v2"
	_, err = Build(context.Background(), cfg)
	assert.True(t, models.IsKind(err, models.KindConfig), "got %v", err)

	cfg.EmbedLLM.Model = "hash-64"
	a, err = Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}
