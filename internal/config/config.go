package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"policyrag/internal/errs"
)

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	BatchSize   int    `yaml:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GenerationConfig configures the generation service client.
type GenerationConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKeyEnv       string `yaml:"api_key_env"`
	Model           string `yaml:"model"`
	TimeoutSecs     int    `yaml:"timeout_secs"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// ChunkingConfig configures how extracted text is split for indexing.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig configures similarity search defaults.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// CascadeConfig holds the compression ratios between tiers.
type CascadeConfig struct {
	DetailToSummaryRatio float64 `yaml:"detail_to_summary_ratio"`
	SummaryToDigestRatio float64 `yaml:"summary_to_digest_ratio"`
}

// TierConfig is the per-tier server address, used when tiers run as
// separate services.
type TierConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	DataDir    string                `yaml:"data_dir"`
	Embedding  EmbeddingConfig       `yaml:"embedding"`
	Generation GenerationConfig      `yaml:"generation"`
	Chunking   ChunkingConfig        `yaml:"chunking"`
	Retrieval  RetrievalConfig       `yaml:"retrieval"`
	Cascade    CascadeConfig         `yaml:"cascade"`
	Tiers      map[string]TierConfig `yaml:"tiers"`
	Logging    LoggingConfig         `yaml:"logging"`
}

// TierDir returns the directory holding one tier's persisted artifacts.
func (c *AppConfig) TierDir(tier string) string {
	return filepath.Join(c.DataDir, tier)
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings that would misbehave at runtime. A chunk
// overlap at or above the chunk size would grow chunks without bound,
// so it is refused here, before any document is processed.
func (c *AppConfig) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return errs.Configf("chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 {
		return errs.Configf("chunk_overlap must not be negative, got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return errs.Configf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return errs.Configf("top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Embedding.BatchSize <= 0 {
		return errs.Configf("embedding batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	for name, r := range map[string]float64{
		"detail_to_summary_ratio": c.Cascade.DetailToSummaryRatio,
		"summary_to_digest_ratio": c.Cascade.SummaryToDigestRatio,
	} {
		if r <= 0 || r > 1 {
			return errs.Configf("%s must be in (0, 1], got %g", name, r)
		}
	}
	return nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = cfg.Embedding.APIKeyEnv
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = 60
	}
	if cfg.Generation.MaxOutputTokens == 0 {
		cfg.Generation.MaxOutputTokens = 512
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1200
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 200
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 6
	}
	if cfg.Cascade.DetailToSummaryRatio == 0 {
		cfg.Cascade.DetailToSummaryRatio = 0.2
	}
	if cfg.Cascade.SummaryToDigestRatio == 0 {
		cfg.Cascade.SummaryToDigestRatio = 0.5
	}
	if cfg.Tiers == nil {
		cfg.Tiers = map[string]TierConfig{
			"detail":  {Addr: ":8002"},
			"summary": {Addr: ":8001"},
			"digest":  {Addr: ":8000"},
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
