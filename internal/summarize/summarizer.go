// Package summarize shortens long training documents with a text generation model.
package summarize

import (
	"context"
	"fmt"

	"github.com/hyperjump/stackprep/internal/config"
	"go.uber.org/zap"
)

// Summarizer produces a summary of a text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Close() error
}

// Open constructs the summarizer named by cfg.Provider.
func Open(cfg *config.SummarizeConfig, logger *zap.Logger) (Summarizer, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaSummarizer(OllamaConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout,
			MaxLength: cfg.MaxLength,
		}, WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown summarize provider: %s", cfg.Provider)
	}
}
