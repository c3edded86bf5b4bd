// Package embedding maps training documents and queries to fixed-size vectors.
//
// An embedder is opened once per process and shared by every document in a
// run. The model that built an index must also be the one used to query it, so
// every embedder reports an Identity that is stored next to the index and
// checked at query time.
package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperjump/stackprep/internal/config"
	"go.uber.org/zap"
)

// ErrModelMismatch is returned when an index was built with a different model
// than the one used to query it.
var ErrModelMismatch = errors.New("embedding model mismatch")

// Embedder produces vector embeddings for text. Implementations are
// deterministic: the same text always yields the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
	Close() error
}

// Identity names a model and its output size.
type Identity struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s/%d", i.Model, i.Dimensions)
}

// MetaKey is the index_meta key holding the Identity of the indexed model.
const MetaKey = "embedding_model"

// Encode returns the stored form of i.
func (i Identity) Encode() string {
	b, _ := json.Marshal(i)
	return string(b)
}

// ParseIdentity decodes an Identity written by Encode.
func ParseIdentity(s string) (Identity, error) {
	var i Identity
	if err := json.Unmarshal([]byte(s), &i); err != nil {
		return Identity{}, fmt.Errorf("decode model identity: %w", err)
	}
	return i, nil
}

// IdentityOf returns the identity of e.
func IdentityOf(e Embedder) Identity {
	return Identity{Model: e.ModelID(), Dimensions: e.Dimensions()}
}

// CheckModel returns ErrModelMismatch if the index identity differs from the
// query-time identity.
func CheckModel(indexed, current Identity) error {
	if indexed != current {
		return fmt.Errorf("%w: index built with %s, querying with %s", ErrModelMismatch, indexed, current)
	}
	return nil
}

// Open constructs the embedder named by cfg.Provider.
func Open(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "onnx":
		e, err := NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			ModelName:  cfg.ModelName,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			CacheSize:  cfg.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "ollama":
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.ModelName,
			Dimensions: cfg.Dimensions,
			CacheSize:  cfg.CacheSize,
		}, logger), nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// embedEach embeds texts one at a time with e.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
