// Package clean filters raw posts by quality and reduces their bodies to plain text.
package clean

import (
	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/pkg/utils"
	"go.uber.org/zap"
)

// Options are the quality thresholds. A post is kept when
// Score >= MinScore and the raw HTML body is at most MaxBodyLength characters.
// A zero MaxBodyLength disables the length check.
type Options struct {
	MinScore      int
	MaxBodyLength int
}

// DefaultOptions matches the thresholds used to build the published dataset.
func DefaultOptions() Options {
	return Options{MinScore: 5, MaxBodyLength: 1000}
}

// Stats counts the outcome of a cleaning pass.
type Stats struct {
	Read          int `json:"read"`
	Kept          int `json:"kept"`
	DroppedScore  int `json:"dropped_score"`
	DroppedLength int `json:"dropped_length"`
	Duplicates    int `json:"duplicates"`
	Recovered     int `json:"recovered"`
}

// Cleaner accumulates cleaned posts. Posts are kept in input order and the
// first occurrence of an id wins.
type Cleaner struct {
	opts   Options
	logger *zap.Logger
	seen   map[int64]struct{}
	posts  []models.CleanedPost
	stats  Stats
}

// NewCleaner returns an empty Cleaner.
func NewCleaner(opts Options, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		opts:   opts,
		logger: utils.OrNop(logger),
		seen:   make(map[int64]struct{}),
	}
}

// Keep reports whether a post passes the quality filter.
func (o Options) Keep(p models.Post) bool {
	return p.Score >= o.MinScore && (o.MaxBodyLength <= 0 || utils.RuneLen(p.Body) <= o.MaxBodyLength)
}

// Add filters and cleans one post. It never fails: malformed HTML yields
// best-effort text and is counted as recovered.
func (c *Cleaner) Add(p models.Post) {
	c.stats.Read++
	if !c.opts.Keep(p) {
		if p.Score < c.opts.MinScore {
			c.stats.DroppedScore++
		} else {
			c.stats.DroppedLength++
		}
		return
	}
	if _, dup := c.seen[p.ID]; dup {
		c.stats.Duplicates++
		c.logger.Debug("duplicate post id", zap.Int64("id", p.ID))
		return
	}
	c.seen[p.ID] = struct{}{}
	body, ok := StripHTML(p.Body)
	if !ok {
		c.stats.Recovered++
		c.logger.Debug("recovered malformed html", zap.Int64("id", p.ID))
	}
	var parent *int64
	if p.ParentID != nil {
		parent = models.Int64Ptr(*p.ParentID)
	}
	c.posts = append(c.posts, models.CleanedPost{ID: p.ID, ParentID: parent, Body: body})
	c.stats.Kept++
}

// Posts returns the cleaned posts collected so far.
func (c *Cleaner) Posts() []models.CleanedPost { return c.posts }

// Stats returns the counters collected so far.
func (c *Cleaner) Stats() Stats { return c.stats }

// Clean filters and cleans a slice of posts.
func Clean(posts []models.Post, opts Options) ([]models.CleanedPost, Stats) {
	c := NewCleaner(opts, nil)
	for _, p := range posts {
		c.Add(p)
	}
	return c.Posts(), c.Stats()
}
