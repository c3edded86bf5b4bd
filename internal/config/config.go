// Package config provides configuration loading and structs for stackprep.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Filter    FilterConfig    `yaml:"filter"`
	Storage   StorageConfig   `yaml:"storage"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// DatasetConfig describes where the dump comes from and where it lands on disk.
type DatasetConfig struct {
	URL             string        `yaml:"url"`
	ArchivePath     string        `yaml:"archive_path"`
	Member          string        `yaml:"member"`
	RawPath         string        `yaml:"raw_path"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

// FilterConfig holds the row predicates of the clean stage.
type FilterConfig struct {
	MinScore      int `yaml:"min_score"`
	MaxBodyLength int `yaml:"max_body_length"`
}

// StorageConfig holds the database path, table names and index paths.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	CleanedTable     string `yaml:"cleaned_table"`
	TrainingTable    string `yaml:"training_table"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	VectorIndexPath  string `yaml:"vector_index_path"`
}

// SummarizeConfig holds summarization settings. Disabled by default.
type SummarizeConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Threshold int           `yaml:"threshold"`
	Mode      string        `yaml:"mode"`
	MaxLength int           `yaml:"max_length"`
	Timeout   time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	ModelName  string `yaml:"model_name"`
	BaseURL    string `yaml:"base_url"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	IndexType  string `yaml:"index_type"`
	QdrantAddr string `yaml:"qdrant_addr"`
	Collection string `yaml:"collection"`
}

// IndexConfig controls the downstream indexing stage. Disabled by default.
type IndexConfig struct {
	Enabled   bool `yaml:"enabled"`
	BatchSize int  `yaml:"batch_size"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultLimit   int     `yaml:"default_limit"`
	MaxLimit       int     `yaml:"max_limit"`
	TopKCandidates int     `yaml:"top_k_candidates"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// WatchConfig holds raw dump watch settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Dataset.ArchivePath = expandPath(cfg.Dataset.ArchivePath, configDir)
	cfg.Dataset.RawPath = expandPath(cfg.Dataset.RawPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Summarize.Mode {
	case SummarizeModeReplace, SummarizeModeAugment:
	default:
		return fmt.Errorf("invalid summarize mode %q (supported: replace, augment)", c.Summarize.Mode)
	}
	if c.Filter.MaxBodyLength < 0 {
		return fmt.Errorf("max_body_length must not be negative")
	}
	if c.Storage.CleanedTable == c.Storage.TrainingTable {
		return fmt.Errorf("cleaned_table and training_table must differ")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
