package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Log          LogConfig         `yaml:"log"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	RAG          RAGConfig         `yaml:"rag"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Storage      StorageConfig     `yaml:"storage"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LLMConfig describes one model endpoint. Provider is ollama, openai or hash.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	Key         string   `yaml:"key"`
	Dimension   int      `yaml:"dimension"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	StopWords   []string `yaml:"stop_words"`
}

type RAGConfig struct {
	ChunkSize                int           `yaml:"chunk_size"`
	ChunkOverlap             int           `yaml:"chunk_overlap"`
	TopK                     int           `yaml:"top_k"`
	PromptTemplate           string        `yaml:"prompt_template"`
	GenerationTimeout        time.Duration `yaml:"generation_timeout"`
	MaxConcurrentGenerations int64         `yaml:"max_concurrent_generations"`
	EncryptionKey            string        `yaml:"encryption_key"`
}

type VectorStoreConfig struct {
	Type     string         `yaml:"type"` // memory, chromem, pgvector, qdrant, sqlite
	Chromem  ChromemConfig  `yaml:"chromem"`
	Database DatabaseConfig `yaml:"database"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

type ChromemConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	InMemory   bool   `yaml:"in_memory"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // pgdriver or pq
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	Table      string `yaml:"table"`
	VectorSize int    `yaml:"vector_size"`
	Debug      bool   `yaml:"debug"`
}

type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	DocumentsDir string `yaml:"documents_dir"`
}

// LoadConfig reads the yaml file at path, applies defaults and environment overrides.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, models.NewError(models.KindConfig, "config.load", fmt.Errorf("parse %s: %w", path, err))
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, models.NewError(models.KindConfig, "config.load", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 32 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.EmbedLLM.Provider == "ollama" {
		if cfg.EmbedLLM.BaseURL == "" {
			cfg.EmbedLLM.BaseURL = "http://localhost:11434"
		}
		if cfg.EmbedLLM.Model == "" {
			cfg.EmbedLLM.Model = "nomic-embed-text"
		}
	}
	if cfg.EmbedLLM.Provider == "hash" {
		if cfg.EmbedLLM.Dimension == 0 {
			cfg.EmbedLLM.Dimension = 256
		}
		if cfg.EmbedLLM.Model == "" {
			cfg.EmbedLLM.Model = fmt.Sprintf("hash-%d", cfg.EmbedLLM.Dimension)
		}
	}
	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = "ollama"
	}
	if cfg.InferenceLLM.Provider == "ollama" {
		if cfg.InferenceLLM.BaseURL == "" {
			cfg.InferenceLLM.BaseURL = "http://localhost:11434"
		}
		if cfg.InferenceLLM.Model == "" {
			cfg.InferenceLLM.Model = "llama3.2"
		}
	}
	if cfg.InferenceLLM.MaxTokens == 0 {
		cfg.InferenceLLM.MaxTokens = 512
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = models.DefaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = models.DefaultChunkOverlap
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = models.DefaultTopK
	}
	if cfg.RAG.PromptTemplate == "" {
		cfg.RAG.PromptTemplate = models.DefaultPromptTemplate
	}
	if cfg.RAG.GenerationTimeout == 0 {
		cfg.RAG.GenerationTimeout = 120 * time.Second
	}
	if cfg.RAG.MaxConcurrentGenerations == 0 {
		cfg.RAG.MaxConcurrentGenerations = 2
	}

	vs := &cfg.VectorStore
	if vs.Type == "" {
		vs.Type = "memory"
	}
	if vs.Chromem.Path == "" {
		vs.Chromem.Path = "./chromemdb"
	}
	if vs.Chromem.Collection == "" {
		vs.Chromem.Collection = "pdf_chunks"
	}
	if vs.Database.Driver == "" {
		vs.Database.Driver = "pgdriver"
	}
	if vs.Database.Table == "" {
		vs.Database.Table = "chunks"
	}
	if vs.Database.VectorSize == 0 {
		vs.Database.VectorSize = defaultVectorSize(cfg)
	}
	if vs.Qdrant.Host == "" {
		vs.Qdrant.Host = "localhost"
	}
	if vs.Qdrant.Port == 0 {
		vs.Qdrant.Port = 6334
	}
	if vs.Qdrant.Collection == "" {
		vs.Qdrant.Collection = "pdf_chunks"
	}
	if vs.Qdrant.VectorSize == 0 {
		vs.Qdrant.VectorSize = defaultVectorSize(cfg)
	}
	if vs.SQLite.Path == "" {
		vs.SQLite.Path = "./data/chunks.db"
	}
	if cfg.Storage.DocumentsDir == "" {
		cfg.Storage.DocumentsDir = "./data/documents"
	}
}

func defaultVectorSize(cfg *Config) int {
	if cfg.EmbedLLM.Dimension > 0 {
		return cfg.EmbedLLM.Dimension
	}
	return 768
}

// applyEnv lets deployment secrets stay out of the yaml file.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "PDFRAG_ADDR")
	setString(&cfg.Log.Level, "PDFRAG_LOG_LEVEL")
	setString(&cfg.VectorStore.Type, "PDFRAG_VECTOR_STORE")
	setString(&cfg.VectorStore.Database.URL, "SUPABASE_URL")
	setString(&cfg.VectorStore.Database.Password, "SUPABASE_KEY")
	setString(&cfg.VectorStore.Qdrant.Host, "QDRANT_URL")
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.VectorStore.Qdrant.Port = port
		}
	}
	setString(&cfg.VectorStore.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&cfg.EmbedLLM.Key, "PDFRAG_EMBED_KEY")
	setString(&cfg.InferenceLLM.Key, "PDFRAG_INFERENCE_KEY")
	setString(&cfg.RAG.EncryptionKey, "PDFRAG_ENCRYPTION_KEY")
	setString(&cfg.Storage.DocumentsDir, "PDFRAG_DOCUMENTS_DIR")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports configuration that would make the service unable to serve.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return models.Errorf(models.KindConfig, "config.validate", format, args...)
	}
	if c.RAG.ChunkSize <= 0 {
		return fail("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fail("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fail("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.EmbedLLM.Model == "" {
		return fail("embed_llm.model is required")
	}
	switch c.EmbedLLM.Provider {
	case "ollama", "openai", "hash":
	default:
		return fail("unknown embed_llm.provider %q", c.EmbedLLM.Provider)
	}
	switch c.InferenceLLM.Provider {
	case "ollama", "openai":
		if c.InferenceLLM.Model == "" {
			return fail("inference_llm.model is required")
		}
	default:
		return fail("unknown inference_llm.provider %q", c.InferenceLLM.Provider)
	}
	switch c.VectorStore.Type {
	case "memory", "chromem", "qdrant", "sqlite":
	case "pgvector":
		if c.VectorStore.Database.URL == "" {
			return fail("vector_store.database.url (or SUPABASE_URL) is required for pgvector")
		}
	default:
		return fail("unknown vector_store.type %q", c.VectorStore.Type)
	}
	if dim := c.EmbedLLM.Dimension; dim > 0 {
		switch {
		case c.VectorStore.Type == "pgvector" && c.VectorStore.Database.VectorSize != dim:
			return fail("vector_store.database.vector_size %d does not match embed_llm.dimension %d", c.VectorStore.Database.VectorSize, dim)
		case c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant.VectorSize != dim:
			return fail("vector_store.qdrant.vector_size %d does not match embed_llm.dimension %d", c.VectorStore.Qdrant.VectorSize, dim)
		}
	}
	if c.VectorStore.Type == "chromem" && c.RAG.EncryptionKey != "" && len(c.RAG.EncryptionKey) != 32 {
		return fail("rag.encryption_key must be 32 bytes")
	}
	return nil
}
