package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hyperjump/stackprep/internal/acquire"
	"github.com/hyperjump/stackprep/internal/assemble"
	"github.com/hyperjump/stackprep/internal/clean"
	"github.com/hyperjump/stackprep/internal/config"
	"github.com/hyperjump/stackprep/internal/dump"
	"github.com/hyperjump/stackprep/internal/embedding"
	"github.com/hyperjump/stackprep/internal/lazy"
	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/internal/storage"
	"github.com/hyperjump/stackprep/internal/summarize"
	"github.com/hyperjump/stackprep/pkg/utils"
	"go.uber.org/zap"
)

// Runner executes pipeline stages against one configuration and database.
// Each stage reads the output of the previous stage from memory when it ran
// in the same call, and from the database otherwise, so a run can restart
// from any stage.
type Runner struct {
	cfg        *config.Config
	store      storage.Storage
	fetcher    *acquire.Fetcher
	summarizer *lazy.Handle[summarize.Summarizer]
	embedder   *lazy.Handle[embedding.Embedder]
	force      bool
	logger     *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithFetcher replaces the archive fetcher.
func WithFetcher(f *acquire.Fetcher) Option {
	return func(r *Runner) { r.fetcher = f }
}

// WithSummarizer replaces the summarizer handle.
func WithSummarizer(h *lazy.Handle[summarize.Summarizer]) Option {
	return func(r *Runner) { r.summarizer = h }
}

// WithEmbedder replaces the embedder handle.
func WithEmbedder(h *lazy.Handle[embedding.Embedder]) Option {
	return func(r *Runner) { r.embedder = h }
}

// WithForce makes the fetch stage download and extract even when the files exist.
func WithForce(force bool) Option {
	return func(r *Runner) { r.force = force }
}

// NewRunner returns a Runner. Models are opened on first use and shared by
// every later run until Close.
func NewRunner(cfg *config.Config, store storage.Storage, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, store: store}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	if r.fetcher == nil {
		r.fetcher = acquire.NewFetcher(cfg.Dataset, acquire.WithLogger(r.logger.Named("acquire")))
	}
	if r.summarizer == nil {
		r.summarizer = lazy.New(func() (summarize.Summarizer, error) {
			return summarize.Open(&cfg.Summarize, r.logger.Named("summarize"))
		})
	}
	if r.embedder == nil {
		r.embedder = lazy.New(func() (embedding.Embedder, error) {
			return embedding.Open(&cfg.Embedding, r.logger.Named("embedding"))
		})
	}
	return r
}

// Embedder returns the shared embedder, loading it if needed.
func (r *Runner) Embedder() (embedding.Embedder, error) {
	return r.embedder.Get()
}

// Close releases any model the runner loaded. The store is left open.
func (r *Runner) Close() error {
	err := r.summarizer.Close()
	if e := r.embedder.Close(); err == nil {
		err = e
	}
	return err
}

// run holds the data passed between stages of one call.
type run struct {
	report  *Report
	cleaned []models.CleanedPost
	docs    []models.TrainingDocument
	loaded  bool
}

// Run executes every stage from from to the end.
func (r *Runner) Run(ctx context.Context, from Stage) (*Report, error) {
	stages, err := From(from)
	if err != nil {
		return nil, err
	}
	return r.RunStages(ctx, stages...)
}

// RunStages executes the given stages in pipeline order. It stops at the
// first failing stage and returns the report so far together with the error.
func (r *Runner) RunStages(ctx context.Context, stages ...Stage) (*Report, error) {
	start := time.Now()
	st := &run{report: &Report{}}
	for _, stage := range Stages {
		if !slices.Contains(stages, stage) {
			continue
		}
		if err := ctx.Err(); err != nil {
			st.report.Duration = time.Since(start)
			return st.report, err
		}
		log := utils.StageLogger(r.logger, string(stage))
		log.Info("stage.start")
		stageStart := time.Now()
		res, err := r.runStage(ctx, stage, st, log)
		res.Stage = stage
		res.Duration = time.Since(stageStart)
		st.report.Stages = append(st.report.Stages, res)
		if err != nil {
			log.Error("stage.failed", zap.Duration("duration", res.Duration), zap.Error(err))
			st.report.Duration = time.Since(start)
			return st.report, fmt.Errorf("%s: %w", stage, err)
		}
		if res.Skipped {
			log.Info("stage.skipped", zap.String("reason", res.Reason))
		} else {
			log.Info("stage.done", zap.Int("rows", res.Rows), zap.Duration("duration", res.Duration))
		}
	}
	st.report.Duration = time.Since(start)
	return st.report, nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage, st *run, log *zap.Logger) (StageResult, error) {
	switch stage {
	case StageFetch:
		return r.fetch(ctx, st)
	case StageClean:
		return r.clean(ctx, st, log)
	case StageAssemble:
		return r.assemble(ctx, st)
	case StageSummarize:
		return r.summarize(ctx, st, log)
	case StageIndex:
		return r.index(ctx, st, log)
	}
	return StageResult{}, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
}

func (r *Runner) fetch(ctx context.Context, st *run) (StageResult, error) {
	res, err := r.fetcher.Fetch(ctx, r.force)
	st.report.Fetch = &res
	if err != nil {
		return StageResult{}, err
	}
	if !res.Downloaded && !res.Extracted {
		return StageResult{Skipped: true, Reason: "archive and raw dump already present"}, nil
	}
	return StageResult{}, nil
}

func (r *Runner) clean(ctx context.Context, st *run, log *zap.Logger) (StageResult, error) {
	cleaner := clean.NewCleaner(clean.Options{
		MinScore:      r.cfg.Filter.MinScore,
		MaxBodyLength: r.cfg.Filter.MaxBodyLength,
	}, log)
	parsed, err := dump.EachFile(r.cfg.Dataset.RawPath, func(p models.Post) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cleaner.Add(p)
		return nil
	}, dump.WithLogger(log))
	st.report.Parse = &parsed
	if err != nil {
		return StageResult{}, err
	}
	stats := cleaner.Stats()
	st.report.Clean = &stats
	st.cleaned = cleaner.Posts()
	if err := r.store.SaveCleanedPosts(ctx, st.cleaned); err != nil {
		return StageResult{}, fmt.Errorf("save cleaned posts: %w", err)
	}
	log.Info("cleaned posts",
		zap.Int("rows", parsed.Rows), zap.Int("skipped", parsed.Skipped),
		zap.Int("kept", stats.Kept), zap.Int("duplicates", stats.Duplicates), zap.Int("recovered", stats.Recovered))
	return StageResult{Rows: len(st.cleaned)}, nil
}

func (r *Runner) assemble(ctx context.Context, st *run) (StageResult, error) {
	if st.cleaned == nil {
		posts, err := r.store.LoadCleanedPosts(ctx)
		if err != nil {
			return StageResult{}, fmt.Errorf("load cleaned posts: %w", err)
		}
		st.cleaned = posts
	}
	docs, stats := assemble.Build(st.cleaned)
	st.report.Assemble = &stats
	if err := r.store.SaveTrainingDocuments(ctx, docs); err != nil {
		return StageResult{}, fmt.Errorf("save training documents: %w", err)
	}
	st.docs, st.loaded = docs, true
	return StageResult{Rows: len(docs)}, nil
}

// trainingDocs returns the documents of this run, or the persisted table.
func (r *Runner) trainingDocs(ctx context.Context, st *run) ([]models.TrainingDocument, error) {
	if st.loaded {
		return st.docs, nil
	}
	docs, err := r.store.LoadTrainingDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load training documents: %w", err)
	}
	st.docs, st.loaded = docs, true
	return docs, nil
}

func (r *Runner) summarize(ctx context.Context, st *run, log *zap.Logger) (StageResult, error) {
	if !r.cfg.Summarize.Enabled {
		return StageResult{Skipped: true, Reason: "summarization disabled"}, nil
	}
	docs, err := r.trainingDocs(ctx, st)
	if err != nil {
		return StageResult{}, err
	}
	stage := summarize.NewStage(r.summarizer, summarize.Options{
		Threshold: r.cfg.Summarize.Threshold,
		Mode:      r.cfg.Summarize.Mode,
	}, log)
	out, err := stage.Run(ctx, docs)
	stats := stage.Stats()
	st.report.Summarize = &stats
	if err != nil {
		return StageResult{}, err
	}
	if err := r.store.SaveTrainingDocuments(ctx, out); err != nil {
		return StageResult{}, fmt.Errorf("save training documents: %w", err)
	}
	st.docs = out
	return StageResult{Rows: stats.Summarized}, nil
}
