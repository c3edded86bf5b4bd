package config

import "time"

const (
	// DefaultDatasetURL is the gardening Stack Exchange archive on archive.org.
	DefaultDatasetURL = "https://archive.org/download/stackexchange/gardening.stackexchange.com.7z"

	// SummarizeModeReplace overwrites text with the summary.
	SummarizeModeReplace = "replace"
	// SummarizeModeAugment keeps text and writes the summary to text_short.
	SummarizeModeAugment = "augment"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Dataset.URL == "" {
		cfg.Dataset.URL = DefaultDatasetURL
	}
	if cfg.Dataset.ArchivePath == "" {
		cfg.Dataset.ArchivePath = "/usr/local/var/stackprep/data/raw/gardening.7z"
	}
	if cfg.Dataset.Member == "" {
		cfg.Dataset.Member = "Posts.xml"
	}
	if cfg.Dataset.RawPath == "" {
		cfg.Dataset.RawPath = "/usr/local/var/stackprep/data/raw/Posts.xml"
	}
	if cfg.Dataset.DownloadTimeout == 0 {
		cfg.Dataset.DownloadTimeout = 30 * time.Minute
	}
	if cfg.Dataset.MaxRetries == 0 {
		cfg.Dataset.MaxRetries = 5
	}
	if cfg.Filter.MinScore == 0 {
		cfg.Filter.MinScore = 5
	}
	if cfg.Filter.MaxBodyLength == 0 {
		cfg.Filter.MaxBodyLength = 1000
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/stackprep/data/db/stackprep.db"
	}
	if cfg.Storage.CleanedTable == "" {
		cfg.Storage.CleanedTable = "gardening_dataset"
	}
	if cfg.Storage.TrainingTable == "" {
		cfg.Storage.TrainingTable = "gardening_training_dataset"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/stackprep/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/stackprep/data/indices/vectors.bin"
	}
	if cfg.Summarize.Provider == "" {
		cfg.Summarize.Provider = "ollama"
	}
	if cfg.Summarize.BaseURL == "" {
		cfg.Summarize.BaseURL = "http://localhost:11434"
	}
	if cfg.Summarize.Model == "" {
		cfg.Summarize.Model = "llama3.2"
	}
	if cfg.Summarize.Threshold == 0 {
		cfg.Summarize.Threshold = 5000
	}
	if cfg.Summarize.Mode == "" {
		cfg.Summarize.Mode = SummarizeModeReplace
	}
	if cfg.Summarize.MaxLength == 0 {
		cfg.Summarize.MaxLength = 1000
	}
	if cfg.Summarize.Timeout == 0 {
		cfg.Summarize.Timeout = 120 * time.Second
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" && cfg.Embedding.Provider == "onnx" {
		cfg.Embedding.ModelPath = "/usr/local/var/stackprep/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.ModelName == "" {
		cfg.Embedding.ModelName = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Vector.QdrantAddr == "" {
		cfg.Vector.QdrantAddr = "localhost:6334"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "gardening_training_dataset"
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 64
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 50
	}
	if cfg.Search.KeywordWeight == 0 && cfg.Search.SemanticWeight == 0 {
		cfg.Search.KeywordWeight = 0.3
		cfg.Search.SemanticWeight = 0.7
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}
