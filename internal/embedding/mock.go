package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/hyperjump/stackprep/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and dry runs. Each text
// maps to a unit vector derived from its hash, so equal texts get equal vectors
// and different texts almost always differ.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder producing vectors of the given size.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the hash-derived vector for text.
func (e *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64()%100003) + 1
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the vector size.
func (e *MockEmbedder) Dimensions() int { return e.dimensions }

// ModelID identifies the mock model and its size.
func (e *MockEmbedder) ModelID() string { return fmt.Sprintf("mock-%d", e.dimensions) }

// Close is a no-op.
func (e *MockEmbedder) Close() error { return nil }
