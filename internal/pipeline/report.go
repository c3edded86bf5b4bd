package pipeline

import (
	"time"

	"github.com/hyperjump/stackprep/internal/acquire"
	"github.com/hyperjump/stackprep/internal/assemble"
	"github.com/hyperjump/stackprep/internal/clean"
	"github.com/hyperjump/stackprep/internal/dump"
	"github.com/hyperjump/stackprep/internal/summarize"
)

// StageResult records one stage of a run.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Skipped  bool          `json:"skipped,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// IndexStats counts the outcome of the index stage.
type IndexStats struct {
	Documents int    `json:"documents"`
	Indexed   int    `json:"indexed"`
	Skipped   int    `json:"skipped"`
	Model     string `json:"model"`
}

// Report is the outcome of a run. Stage statistics are nil for stages that
// did not run.
type Report struct {
	Stages    []StageResult    `json:"stages"`
	Fetch     *acquire.Result  `json:"fetch,omitempty"`
	Parse     *dump.Stats      `json:"parse,omitempty"`
	Clean     *clean.Stats     `json:"clean,omitempty"`
	Assemble  *assemble.Stats  `json:"assemble,omitempty"`
	Summarize *summarize.Stats `json:"summarize,omitempty"`
	Index     *IndexStats      `json:"index,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// Result returns the result of stage s, if it ran or was skipped in this run.
func (r *Report) Result(s Stage) (StageResult, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == s {
			return sr, true
		}
	}
	return StageResult{}, false
}
