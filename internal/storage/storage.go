// Package storage persists the pipeline's named tables.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/stackprep/internal/models"
)

// ErrTableNotFound is returned when loading a table that has never been written.
var ErrTableNotFound = errors.New("table not found")

// Storage persists cleaned posts and training documents. Every Save replaces
// the whole table: rows from earlier runs never survive a write.
type Storage interface {
	SaveCleanedPosts(ctx context.Context, posts []models.CleanedPost) error
	LoadCleanedPosts(ctx context.Context) ([]models.CleanedPost, error)

	SaveTrainingDocuments(ctx context.Context, docs []models.TrainingDocument) error
	LoadTrainingDocuments(ctx context.Context) ([]models.TrainingDocument, error)
	// GetTrainingDocuments returns the documents with the given sources.
	// Unknown sources are left out of the map.
	GetTrainingDocuments(ctx context.Context, sources []int64) (map[int64]*models.TrainingDocument, error)

	// CountRows returns the row counts of the cleaned and training tables.
	// A table that does not exist yet counts as zero.
	CountRows(ctx context.Context) (TableCounts, error)

	// SetMeta and GetMeta store small key/value facts about the indices,
	// such as the embedding model that built them.
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, bool, error)

	Close() error
}

// Tables names the persisted tables.
type Tables struct {
	Cleaned  string
	Training string
}

// TableCounts holds row counts per table.
type TableCounts struct {
	Cleaned  int `json:"cleaned"`
	Training int `json:"training"`
}
