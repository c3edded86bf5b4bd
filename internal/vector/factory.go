package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/stackprep/internal/config"
	"go.uber.org/zap"
)

// IndexType names a vector index backend.
type IndexType string

const (
	// IndexTypeMemory keeps vectors in memory and persists them to a file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant stores vectors in a Qdrant collection.
	IndexTypeQdrant IndexType = "qdrant"
)

// NewVectorIndex creates the index selected by cfg.IndexType.
func NewVectorIndex(ctx context.Context, cfg *config.VectorConfig, dimensions int, logger *zap.Logger) (VectorIndex, error) {
	switch IndexType(cfg.IndexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeQdrant:
		if dimensions <= 0 {
			return nil, fmt.Errorf("dimensions must be positive")
		}
		return NewQdrantIndex(ctx, cfg.QdrantAddr, cfg.Collection, dimensions, logger)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant)", cfg.IndexType)
	}
}
