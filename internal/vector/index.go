// Package vector stores document embeddings and answers nearest-neighbour queries.
//
// It is the boundary between the pipeline and a vector database: the index
// stage writes (document key, embedding) pairs, and retrieval searches them by
// cosine similarity. Embeddings are expected to be L2 normalised, so inner
// product equals cosine similarity.
package vector

import "context"

// VectorIndex defines vector storage and similarity search. Add replaces the
// vector of an id that is already present.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	// Reset empties the index.
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorResult is a single search hit. ID is the training document key.
type VectorResult struct {
	ID    string
	Score float64
}

// InnerProduct returns the inner product of two vectors of equal length.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
