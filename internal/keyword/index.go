// Package keyword provides a BM25 keyword index over training documents.
package keyword

import (
	"context"

	"github.com/hyperjump/stackprep/internal/models"
)

// SearchOptions tune keyword search. Nil means use defaults.
type SearchOptions struct {
	// QuestionBoost multiplies the score contribution from matches in the
	// question part of a document. Use 1.0 for no boost.
	QuestionBoost float64
	// PhraseBoost multiplies the score when the query appears as a phrase.
	PhraseBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2).
	Fuzziness int
}

// KeywordIndex defines keyword search operations. Documents are keyed by
// TrainingDocument.Key.
type KeywordIndex interface {
	Index(ctx context.Context, doc *models.TrainingDocument) error
	IndexBatch(ctx context.Context, docs []models.TrainingDocument) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, key string) error
	// Reset removes every document.
	Reset(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
