package summarize

import (
	"context"
	"iter"
	"time"

	"github.com/hyperjump/stackprep/internal/config"
	"github.com/hyperjump/stackprep/internal/lazy"
	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/pkg/utils"
	"go.uber.org/zap"
)

// Options control which documents are summarized and where the summary goes.
type Options struct {
	// Threshold is the length in characters above which a document is summarized.
	Threshold int
	// Mode is config.SummarizeModeReplace or config.SummarizeModeAugment.
	Mode string
}

// Stats counts the outcome of a summarization pass.
type Stats struct {
	Documents  int           `json:"documents"`
	Summarized int           `json:"summarized"`
	Short      int           `json:"short"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Stage applies a summarizer to training documents. The summarizer is loaded
// through a lazy handle, so a run with no long documents never loads it.
type Stage struct {
	model  *lazy.Handle[Summarizer]
	opts   Options
	logger *zap.Logger
	stats  Stats
}

// NewStage returns a Stage that uses model.
func NewStage(model *lazy.Handle[Summarizer], opts Options, logger *zap.Logger) *Stage {
	if opts.Threshold <= 0 {
		opts.Threshold = 5000
	}
	if opts.Mode == "" {
		opts.Mode = config.SummarizeModeReplace
	}
	return &Stage{model: model, opts: opts, logger: utils.OrNop(logger)}
}

// Apply returns doc with its summary applied. A document at or under the
// threshold passes through unchanged, except that augment mode copies the text
// into TextShort. When the model fails to load or to summarize, the original
// text is kept and the failure is counted.
func (s *Stage) Apply(ctx context.Context, doc models.TrainingDocument) models.TrainingDocument {
	s.stats.Documents++
	augment := s.opts.Mode == config.SummarizeModeAugment
	if utils.RuneLen(doc.Text) <= s.opts.Threshold {
		s.stats.Short++
		if augment {
			doc.TextShort = models.StringPtr(doc.Text)
		}
		return doc
	}

	summary, err := s.summarize(ctx, doc.Text)
	if err != nil {
		s.stats.Failed++
		s.logger.Warn("summarization failed, keeping original text",
			zap.Int64("source", doc.Source), zap.Error(err))
		if augment {
			doc.TextShort = models.StringPtr(doc.Text)
		}
		return doc
	}
	s.stats.Summarized++
	if augment {
		doc.TextShort = models.StringPtr(summary)
	} else {
		doc.Text = summary
	}
	return doc
}

func (s *Stage) summarize(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, err := s.model.Get()
	if err != nil {
		return "", err
	}
	return m.Summarize(ctx, text)
}

// Stream applies the stage lazily to a sequence of documents.
func (s *Stage) Stream(ctx context.Context, docs iter.Seq[models.TrainingDocument]) iter.Seq[models.TrainingDocument] {
	return func(yield func(models.TrainingDocument) bool) {
		for doc := range docs {
			if !yield(s.Apply(ctx, doc)) {
				return
			}
		}
	}
}

// Run applies the stage to every document. It stops early and returns the
// context error if ctx is cancelled.
func (s *Stage) Run(ctx context.Context, docs []models.TrainingDocument) ([]models.TrainingDocument, error) {
	start := time.Now()
	out := make([]models.TrainingDocument, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, s.Apply(ctx, doc))
	}
	s.stats.Duration += time.Since(start)
	return out, nil
}

// Stats returns the counters collected so far.
func (s *Stage) Stats() Stats { return s.stats }
