package acquire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/stackprep/internal/config"
)

func quickBackOff(retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
	}
}

func archiveBytes(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "gardening.7z"))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func datasetConfig(dir, url string) config.DatasetConfig {
	return config.DatasetConfig{
		URL:         url,
		ArchivePath: filepath.Join(dir, "raw", "gardening.7z"),
		Member:      "Posts.xml",
		RawPath:     filepath.Join(dir, "raw", "Posts.xml"),
		MaxRetries:  3,
	}
}

func TestFetcher_retriesServerErrors(t *testing.T) {
	body := archiveBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cfg := datasetConfig(t.TempDir(), srv.URL)
	f := NewFetcher(cfg, WithBackOff(quickBackOff(5)))
	res, err := f.Fetch(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Downloaded || !res.Extracted || res.Attempts != 3 {
		t.Errorf("result = %+v", res)
	}
	if res.ArchiveBytes != int64(len(body)) {
		t.Errorf("archive bytes = %d, want %d", res.ArchiveBytes, len(body))
	}
	raw, err := os.ReadFile(cfg.RawPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `<row Id="2"`) {
		t.Errorf("extracted file does not look like Posts.xml: %q", raw)
	}
	if int64(len(raw)) != res.RawBytes {
		t.Errorf("raw bytes = %d, file has %d", res.RawBytes, len(raw))
	}
}

func TestFetcher_clientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := datasetConfig(t.TempDir(), srv.URL)
	_, err := NewFetcher(cfg, WithBackOff(quickBackOff(5))).Fetch(context.Background(), false)
	if err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Errorf("404 should not be retried, server saw %d requests", hits.Load())
	}
	if _, err := os.Stat(cfg.ArchivePath); !os.IsNotExist(err) {
		t.Error("failed download should not leave an archive behind")
	}
}

func TestFetcher_givesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := datasetConfig(t.TempDir(), srv.URL)
	_, err := NewFetcher(cfg, WithBackOff(quickBackOff(2))).Fetch(context.Background(), false)
	if !errors.Is(err, errServer) {
		t.Errorf("err = %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 1 try + 2 retries, got %d", hits.Load())
	}
}

func TestFetcher_skipsExisting(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(archiveBytes(t))
	}))
	defer srv.Close()

	cfg := datasetConfig(t.TempDir(), srv.URL)
	f := NewFetcher(cfg, WithBackOff(quickBackOff(0)))
	if _, err := f.Fetch(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	res, err := f.Fetch(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Downloaded || res.Extracted {
		t.Errorf("second fetch should be a no-op, got %+v", res)
	}
	if _, err := f.Fetch(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("force should download again, server saw %d requests", hits.Load())
	}
}

func TestFetcher_cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := datasetConfig(t.TempDir(), srv.URL)
	if _, _, _, err := NewFetcher(cfg, WithBackOff(quickBackOff(100))).Download(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join("testdata", "gardening.7z")

	dest := filepath.Join(dir, "out", "Users.xml")
	n, err := Extract(archive, "Users.xml", dest)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "<users/>\n" || n != int64(len(got)) {
		t.Errorf("extracted %q (%d bytes)", got, n)
	}

	if _, err := Extract(archive, "Comments.xml", filepath.Join(dir, "c.xml")); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("err = %v", err)
	}
	if _, err := Extract(filepath.Join(dir, "missing.7z"), "Posts.xml", dest); err == nil {
		t.Error("expected error for missing archive")
	}
}
