// Package config defines the immutable, validated configuration struct the
// core operates on. Loading config from files or environment variables is
// an external collaborator's job (the CLI); this package only defines the
// schema, defaults, and validation, plus a YAML decode convenience so
// callers have a ready-made on-ramp.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete, immutable configuration accepted by the core.
// It mirrors the options accepted by the core's external interfaces.
type Config struct {
	// DataDir is the root directory for persistent state (default ~/.nexus).
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// EmbeddingConfig configures the embedder.
type EmbeddingConfig struct {
	// ModelID identifies the embedding model; must match the Vector Store's
	// recorded model id or queries fail with a ConfigError.
	ModelID string `yaml:"model_id" json:"model_id"`

	// BatchSize is the max number of texts per embedding batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Dimensions is the output vector width; must match the Vector Store's
	// configured dimensionality.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// CacheSize bounds the LRU query-embedding cache (0 uses the default).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkingConfig configures the chunker.
type ChunkingConfig struct {
	TargetTokens int `yaml:"target_tokens" json:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// RetrievalConfig configures the hybrid retriever.
type RetrievalConfig struct {
	DenseK   int     `yaml:"dense_k" json:"dense_k"`
	SparseK  int     `yaml:"sparse_k" json:"sparse_k"`
	RerankK  int     `yaml:"rerank_k" json:"rerank_k"`
	Alpha    float64 `yaml:"alpha" json:"alpha"`
	BM25K1   float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B    float64 `yaml:"bm25_b" json:"bm25_b"`

	// QueryDeadline is the per-query overall deadline (default 2s).
	QueryDeadline time.Duration `yaml:"query_deadline" json:"query_deadline"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	DebounceMS    int `yaml:"debounce_ms" json:"debounce_ms"`
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// Workers is the width of the ingestion worker pool (default = logical CPUs).
	Workers int `yaml:"workers" json:"workers"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	home, err := os.UserHomeDir()
	dataDir := filepath.Join(os.TempDir(), ".nexus")
	if err == nil {
		dataDir = filepath.Join(home, ".nexus")
	}

	return &Config{
		DataDir: dataDir,
		Embedding: EmbeddingConfig{
			ModelID:    "static-768",
			BatchSize:  32,
			Dimensions: 768,
			CacheSize:  1024,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  512,
			OverlapTokens: 50,
		},
		Retrieval: RetrievalConfig{
			DenseK:        50,
			SparseK:       50,
			RerankK:       20,
			Alpha:         0.5,
			BM25K1:        1.2,
			BM25B:         0.75,
			QueryDeadline: 2 * time.Second,
		},
		Ingest: IngestConfig{
			DebounceMS:    500,
			QueueCapacity: 1024,
			Workers:       0, // 0 means "use runtime.NumCPU()"
		},
		Logging: LoggingConfig{
			Level:         "info",
			WriteToStderr: true,
		},
	}
}

// Validate checks that the configuration is internally consistent,
// returning a ConfigError-worthy message the caller can wrap. The core
// treats a failed Validate as fatal at startup.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Embedding.ModelID == "" {
		return fmt.Errorf("embedding.model_id must not be empty")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking.target_tokens must be positive, got %d", c.Chunking.TargetTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunking.overlap_tokens must be in [0, target_tokens), got %d", c.Chunking.OverlapTokens)
	}
	if c.Retrieval.DenseK <= 0 || c.Retrieval.SparseK <= 0 {
		return fmt.Errorf("retrieval.dense_k and sparse_k must be positive")
	}
	if c.Retrieval.RerankK < 0 {
		return fmt.Errorf("retrieval.rerank_k must be >= 0")
	}
	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		return fmt.Errorf("retrieval.alpha must be in [0, 1], got %f", c.Retrieval.Alpha)
	}
	if c.Retrieval.BM25K1 <= 0 {
		return fmt.Errorf("retrieval.bm25_k1 must be positive")
	}
	if c.Retrieval.BM25B < 0 || c.Retrieval.BM25B > 1 {
		return fmt.Errorf("retrieval.bm25_b must be in [0, 1]")
	}
	if c.Retrieval.QueryDeadline <= 0 {
		return fmt.Errorf("retrieval.query_deadline must be positive")
	}
	if c.Ingest.DebounceMS < 0 {
		return fmt.Errorf("ingest.debounce_ms must be >= 0")
	}
	if c.Ingest.QueueCapacity <= 0 {
		return fmt.Errorf("ingest.queue_capacity must be positive")
	}
	return nil
}

// MetadataDBPath is the path to the relational metadata store.
func (c *Config) MetadataDBPath() string { return filepath.Join(c.DataDir, "metadata.db") }

// VectorsDir is the path to the vector store's data files.
func (c *Config) VectorsDir() string { return filepath.Join(c.DataDir, "vectors") }

// BM25IndexPath is the path to the serialized BM25 dictionary + posting lists.
func (c *Config) BM25IndexPath() string { return filepath.Join(c.DataDir, "bm25", "index.bin") }

// BM25LengthsPath is the path to the per-chunk token lengths file.
func (c *Config) BM25LengthsPath() string { return filepath.Join(c.DataDir, "bm25", "lengths.bin") }

// Load reads and decodes a YAML configuration file over a Default config,
// so unset fields keep their defaults. This is a convenience for callers;
// the core itself never reads from disk on its own.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// WriteYAML serializes the configuration to path, creating parent
// directories as needed.
func (c *Config) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}
