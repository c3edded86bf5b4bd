// Package acquire downloads the Stack Exchange dump archive and extracts the
// posts file from it.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/stackprep/internal/config"
	"github.com/hyperjump/stackprep/pkg/utils"
	"go.uber.org/zap"
)

var errServer = errors.New("server error")

// Result describes what a fetch did.
type Result struct {
	Downloaded      bool          `json:"downloaded"`
	Extracted       bool          `json:"extracted"`
	ArchiveBytes    int64         `json:"archive_bytes"`
	RawBytes        int64         `json:"raw_bytes"`
	Attempts        int           `json:"attempts"`
	DownloadElapsed time.Duration `json:"download_elapsed"`
}

// Fetcher downloads the archive to ArchivePath and extracts Member to RawPath.
type Fetcher struct {
	cfg     config.DatasetConfig
	client  *http.Client
	logger  *zap.Logger
	newBack func() backoff.BackOff
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithBackOff replaces the retry policy. newBack is called once per download.
func WithBackOff(newBack func() backoff.BackOff) Option {
	return func(f *Fetcher) { f.newBack = newBack }
}

// NewFetcher returns a Fetcher for cfg.
func NewFetcher(cfg config.DatasetConfig, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.DownloadTimeout},
	}
	f.newBack = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 2 * time.Second
		b.MaxInterval = time.Minute
		b.MaxElapsedTime = 0
		return backoff.WithMaxRetries(b, uint64(max(cfg.MaxRetries, 0)))
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = utils.OrNop(f.logger)
	return f
}

// Fetch downloads the archive unless it is already present, then extracts the
// posts member unless the raw file is already present. force redoes both.
func (f *Fetcher) Fetch(ctx context.Context, force bool) (Result, error) {
	var res Result
	if force || !exists(f.cfg.ArchivePath) {
		n, attempts, elapsed, err := f.Download(ctx)
		res.Attempts = attempts
		if err != nil {
			return res, err
		}
		res.Downloaded, res.ArchiveBytes, res.DownloadElapsed = true, n, elapsed
	} else {
		f.logger.Info("archive present, skipping download", zap.String("path", f.cfg.ArchivePath))
	}

	if force || res.Downloaded || !exists(f.cfg.RawPath) {
		n, err := Extract(f.cfg.ArchivePath, f.cfg.Member, f.cfg.RawPath)
		if err != nil {
			return res, err
		}
		res.Extracted, res.RawBytes = true, n
		f.logger.Info("extracted dump", zap.String("member", f.cfg.Member), zap.String("path", f.cfg.RawPath), zap.Int64("bytes", n))
	}
	return res, nil
}

// Download fetches the archive into ArchivePath through a temporary file.
// Network errors and 5xx responses are retried with exponential backoff; any
// other non-2xx status fails immediately. It returns the bytes written and the
// number of attempts made.
func (f *Fetcher) Download(ctx context.Context) (int64, int, time.Duration, error) {
	start := time.Now()
	dir := filepath.Dir(f.cfg.ArchivePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, 0, 0, fmt.Errorf("create archive dir: %w", err)
	}

	var written int64
	attempts := 0
	op := func() error {
		attempts++
		n, err := f.downloadOnce(ctx)
		written = n
		return err
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("download failed, retrying",
			zap.String("url", f.cfg.URL), zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(f.newBack(), ctx), notify); err != nil {
		return 0, attempts, time.Since(start), fmt.Errorf("download %s: %w", f.cfg.URL, err)
	}
	f.logger.Info("downloaded archive",
		zap.String("url", f.cfg.URL), zap.Int64("bytes", written), zap.Int("attempts", attempts))
	return written, attempts, time.Since(start), nil
}

func (f *Fetcher) downloadOnce(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: %s", errServer, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, backoff.Permanent(fmt.Errorf("unexpected status: %s", resp.Status))
	}
	return writeAtomic(f.cfg.ArchivePath, resp.Body)
}

// writeAtomic copies r into path through a temporary file in the same directory.
func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, err
	}
	return n, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
