// Package main is the stackprep CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hyperjump/stackprep/internal/cli"
	"github.com/hyperjump/stackprep/internal/config"
	"github.com/hyperjump/stackprep/internal/embedding"
	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/internal/pipeline"
	"github.com/hyperjump/stackprep/internal/storage"
	"github.com/hyperjump/stackprep/internal/watcher"
	"github.com/hyperjump/stackprep/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/stackprep/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory is preferred if it exists, and a missing default file
// means built-in defaults. Returns the config and the path that was loaded
// ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "run":
		runPipeline(args)
	case "fetch":
		runStage(pipeline.StageFetch, args)
	case "clean", "parse":
		runStage(pipeline.StageClean, args)
	case "assemble":
		runStage(pipeline.StageAssemble, args)
	case "summarize":
		runStage(pipeline.StageSummarize, args)
	case "index":
		runStage(pipeline.StageIndex, args)
	case "query", "search":
		runQuery(args)
	case "status":
		runStatus(args)
	case "watch":
		runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("stackprep version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags are accepted by every subcommand that touches the dataset.
type commonFlags struct {
	configPath *string
	debug      *bool
	format     *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
		format:     fs.String("format", "text", "output format: text or json"),
	}
}

// app holds what a subcommand needs: config, logger, database and runner.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.SQLiteStorage
	runner *pipeline.Runner
	format cli.OutputFormat
}

func openApp(flags commonFlags, opts ...pipeline.Option) (*app, error) {
	format, err := cli.ParseOutputFormat(*flags.format)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(*flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *flags.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, storage.Tables{
		Cleaned:  cfg.Storage.CleanedTable,
		Training: cfg.Storage.TrainingTable,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	opts = append([]pipeline.Option{pipeline.WithLogger(logger)}, opts...)
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		runner: pipeline.NewRunner(cfg, store, opts...),
		format: format,
	}, nil
}

func (a *app) Close() {
	_ = a.runner.Close()
	_ = a.store.Close()
	_ = a.logger.Sync()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPipeline(args []string) {
	fs, flags := newFlagSet("run")
	from := fs.String("from", string(pipeline.StageFetch), "first stage to run: fetch, clean, assemble, summarize or index")
	force := fs.Bool("force", false, "download and extract even if the files exist")
	_ = fs.Parse(args)

	stage, err := pipeline.ParseStage(*from)
	if err != nil {
		fatal("%v", err)
	}
	a, err := openApp(flags, pipeline.WithForce(*force))
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()
	report, err := a.runner.Run(ctx, stage)
	finish(a, report, err)
}

// runStage runs one stage. Asking for summarize or index explicitly runs it
// even when the config leaves it disabled.
func runStage(stage pipeline.Stage, args []string) {
	fs, flags := newFlagSet(string(stage))
	force := fs.Bool("force", false, "download and extract even if the files exist (fetch only)")
	_ = fs.Parse(args)

	a, err := openApp(flags, pipeline.WithForce(*force))
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()
	switch stage {
	case pipeline.StageSummarize:
		a.cfg.Summarize.Enabled = true
	case pipeline.StageIndex:
		a.cfg.Index.Enabled = true
	}

	ctx, cancel := signalContext()
	defer cancel()
	report, err := a.runner.RunStages(ctx, stage)
	finish(a, report, err)
}

func finish(a *app, report *pipeline.Report, err error) {
	if report != nil {
		if werr := cli.WriteReport(os.Stdout, report, a.format); werr != nil {
			a.logger.Warn("write report failed", zap.Error(werr))
		}
	}
	if err != nil {
		a.Close()
		fatal("Pipeline failed: %v", err)
	}
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves flags that appear after the query to the front so
// that flag.Parse sees them.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery(args []string) {
	fs, flags := newFlagSet("query")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	keyword := fs.Bool("keyword", true, "fuse keyword scores with semantic scores")
	semantic := fs.Bool("semantic", true, "use semantic search")
	minScore := fs.Float64("min-score", 0, "minimum fused score")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: stackprep query [flags] <text>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(queryArgsReorder(args))

	text := buildQuery(fs.Args())
	if text == "" {
		fs.Usage()
		os.Exit(1)
	}
	a, err := openApp(flags)
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()
	ret, closeIdx, err := a.runner.Retriever(ctx)
	if err != nil {
		a.Close()
		fatal("Failed to open indices: %v", err)
	}
	defer closeIdx()

	resp, err := ret.Search(ctx, &models.SearchQuery{
		Query:           text,
		Limit:           *limit,
		KeywordEnabled:  *keyword,
		SemanticEnabled: *semantic,
		MinScore:        *minScore,
	})
	if err != nil {
		_ = closeIdx()
		a.Close()
		fatal("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, a.format); err != nil {
		a.logger.Warn("write results failed", zap.Error(err))
	}
}

func runStatus(args []string) {
	fs, flags := newFlagSet("status")
	_ = fs.Parse(args)
	a, err := openApp(flags)
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	status, err := collectStatus(context.Background(), a.cfg, a.store)
	if err != nil {
		a.Close()
		fatal("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, a.format); err != nil {
		a.logger.Warn("write status failed", zap.Error(err))
	}
}

func collectStatus(ctx context.Context, cfg *config.Config, store storage.Storage) (*cli.Status, error) {
	counts, err := store.CountRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	status := &cli.Status{
		ArchivePath:  cfg.Dataset.ArchivePath,
		RawPath:      cfg.Dataset.RawPath,
		DatabasePath: cfg.Storage.DatabasePath,
		Tables:       counts,
	}
	_, err = os.Stat(cfg.Dataset.ArchivePath)
	status.ArchivePresent = err == nil
	_, err = os.Stat(cfg.Dataset.RawPath)
	status.RawPresent = err == nil

	if stored, ok, err := store.GetMeta(ctx, embedding.MetaKey); err != nil {
		return nil, fmt.Errorf("read index model: %w", err)
	} else if ok {
		if id, err := embedding.ParseIdentity(stored); err == nil {
			status.IndexModel = id.String()
		}
	}

	usage, err := storage.DiskUsageBytes(
		cfg.Dataset.ArchivePath,
		cfg.Dataset.RawPath,
		cfg.Storage.DatabasePath,
		cfg.Storage.KeywordIndexPath,
		cfg.Storage.VectorIndexPath,
	)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	status.DiskUsage = usage
	return status, nil
}

// runWatch reruns the pipeline from the clean stage whenever the raw dump changes.
func runWatch(args []string) {
	fs, flags := newFlagSet("watch")
	_ = fs.Parse(args)
	a, err := openApp(flags)
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	onChange := func(path string) {
		report, err := a.runner.Run(ctx, pipeline.StageClean)
		if err != nil {
			a.logger.Error("pipeline run failed", zap.String("path", path), zap.Error(err))
			return
		}
		_ = cli.WriteReport(os.Stdout, report, a.format)
	}
	w := watcher.NewWatcher([]string{a.cfg.Dataset.RawPath}, onChange,
		watcher.WithDebounce(a.cfg.Watch.Debounce),
		watcher.WithLogger(a.logger.Named("watcher")),
	)
	if err := w.Start(ctx); err != nil {
		a.Close()
		fatal("Failed to start watcher: %v", err)
	}
	a.logger.Info("watching raw dump", zap.String("path", a.cfg.Dataset.RawPath))
	<-ctx.Done()
	w.Stop()
	a.logger.Info("Shutting down...")
}

func printUsage() {
	fmt.Println(`stackprep - Stack Exchange dump to training dataset pipeline

Usage:
  stackprep run [flags]             Run the pipeline (fetch, clean, assemble, summarize, index)
  stackprep fetch [flags]           Download the archive and extract Posts.xml
  stackprep clean [flags]           Parse Posts.xml, filter and clean posts
  stackprep assemble [flags]        Join questions and answers into training documents
  stackprep summarize [flags]       Summarize long training documents
  stackprep index [flags]           Embed training documents into the vector and keyword indices
  stackprep query [flags] <text>    Retrieve training documents similar to text
  stackprep status [flags]          Show dataset, table and index status
  stackprep watch [flags]           Rerun the pipeline when the raw dump changes
  stackprep version                 Show version
  stackprep help                    Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/stackprep/config.yaml)
  --debug            Enable debug logging
  --format string    Output format: text or json (default: text)

Run Flags:
  --from string      First stage to run (default: fetch)
  --force            Download and extract even if the files exist

Query Flags:
  --limit int        Number of results (default from config)
  --keyword          Fuse keyword scores (default: true)
  --semantic         Use semantic search (default: true)
  --min-score float  Minimum fused score

Examples:
  stackprep run
  stackprep run --from assemble
  stackprep fetch --force
  stackprep query "how often should I water roses"
  stackprep status --format json`)
}
