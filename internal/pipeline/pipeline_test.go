package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/stackprep/internal/acquire"
	"github.com/hyperjump/stackprep/internal/config"
	"github.com/hyperjump/stackprep/internal/embedding"
	"github.com/hyperjump/stackprep/internal/lazy"
	"github.com/hyperjump/stackprep/internal/models"
	"github.com/hyperjump/stackprep/internal/search"
	"github.com/hyperjump/stackprep/internal/storage"
	"github.com/hyperjump/stackprep/internal/summarize"
)

const samplePosts = `<?xml version="1.0" encoding="utf-8"?>
<posts>
  <row Id="1" PostTypeId="1" Score="8" Title="Roses" Body="&lt;p&gt;How to water roses?&lt;/p&gt;" />
  <row Id="2" PostTypeId="2" ParentId="1" Score="6" Body="&lt;p&gt;Water daily.&lt;/p&gt;" />
  <row Id="3" PostTypeId="2" ParentId="1" Score="2" Body="&lt;p&gt;Low score answer.&lt;/p&gt;" />
  <row Id="4" PostTypeId="2" ParentId="99" Score="9" Body="&lt;p&gt;Orphan.&lt;/p&gt;" />
  <row Id="bad" PostTypeId="1" Score="9" Body="x" />
</posts>
`

var wantDoc = models.TrainingDocument{Source: 2, Text: "How to water roses?\n\nWater daily."}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Dataset.ArchivePath = filepath.Join(dir, "raw", "gardening.7z")
	cfg.Dataset.RawPath = filepath.Join(dir, "raw", "Posts.xml")
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "stackprep.db")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "indices", "bleve")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "indices", "vectors.bin")
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 16
	cfg.Index.Enabled = true
	config.ApplyDefaults(cfg)
	return cfg
}

func writeRaw(t *testing.T, cfg *config.Config, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(cfg.Dataset.RawPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Dataset.RawPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func openStore(t *testing.T, cfg *config.Config) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, storage.Tables{
		Cleaned:  cfg.Storage.CleanedTable,
		Training: cfg.Storage.TrainingTable,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in   string
		want Stage
		err  bool
	}{
		{"fetch", StageFetch, false},
		{" Clean ", StageClean, false},
		{"parse", StageClean, false},
		{"index", StageIndex, false},
		{"deploy", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStage(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnknownStage) {
				t.Errorf("ParseStage(%q) err = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseStage(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := From("nope"); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("From err = %v", err)
	}
	if s, _ := From(StageSummarize); len(s) != 2 {
		t.Errorf("From(summarize) = %v", s)
	}
}

func TestRunner_fromClean(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeRaw(t, cfg, samplePosts)
	store := openStore(t, cfg)
	r := NewRunner(cfg, store)
	defer r.Close()

	report, err := r.Run(ctx, StageClean)
	if err != nil {
		t.Fatal(err)
	}
	if report.Fetch != nil {
		t.Error("fetch should not run")
	}
	if report.Parse.Rows != 4 || report.Parse.Skipped != 1 {
		t.Errorf("parse = %+v", report.Parse)
	}
	if report.Clean.Kept != 3 || report.Clean.DroppedScore != 1 {
		t.Errorf("clean = %+v", report.Clean)
	}
	if report.Assemble.Pairs != 1 || report.Assemble.OrphanAnswers != 1 {
		t.Errorf("assemble = %+v", report.Assemble)
	}
	if sr, _ := report.Result(StageSummarize); !sr.Skipped {
		t.Error("summarize should be skipped when disabled")
	}
	if report.Index.Indexed != 1 || report.Index.Model != "mock-16/16" {
		t.Errorf("index = %+v", report.Index)
	}

	docs, err := store.LoadTrainingDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Source != wantDoc.Source || docs[0].Text != wantDoc.Text || docs[0].TextShort != nil {
		t.Fatalf("training table = %+v", docs)
	}

	ret, closeIdx, err := r.Retriever(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer closeIdx()
	resp, err := ret.Search(ctx, &models.SearchQuery{Query: wantDoc.Text})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Document.Source != 2 {
		t.Errorf("search results = %+v", resp.Results)
	}
}

func TestRunner_retrieverRejectsOtherModel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeRaw(t, cfg, samplePosts)
	store := openStore(t, cfg)
	r := NewRunner(cfg, store)
	defer r.Close()
	if _, err := r.Run(ctx, StageClean); err != nil {
		t.Fatal(err)
	}

	other := NewRunner(cfg, store, WithEmbedder(lazy.Ready[embedding.Embedder](embedding.NewMockEmbedder(8))))
	defer other.Close()
	_, _, err := other.Retriever(ctx)
	if !errors.Is(err, embedding.ErrModelMismatch) {
		t.Errorf("err = %v, want ErrModelMismatch", err)
	}
}

func TestRunner_retrieverBeforeIndex(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	r := NewRunner(cfg, store)
	defer r.Close()
	if _, _, err := r.Retriever(context.Background()); !errors.Is(err, search.ErrNotIndexed) {
		t.Errorf("err = %v, want ErrNotIndexed", err)
	}
}

func TestRunner_rerunOverwrites(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Index.Enabled = false
	writeRaw(t, cfg, samplePosts)
	store := openStore(t, cfg)
	r := NewRunner(cfg, store)

	if _, err := r.Run(ctx, StageClean); err != nil {
		t.Fatal(err)
	}
	writeRaw(t, cfg, `<posts>
  <row Id="10" PostTypeId="1" Score="7" Body="&lt;b&gt;Mulch?&lt;/b&gt;" />
  <row Id="11" PostTypeId="2" ParentId="10" Score="5" Body="Yes." />
</posts>`)
	if _, err := r.Run(ctx, StageClean); err != nil {
		t.Fatal(err)
	}
	docs, err := store.LoadTrainingDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Source != 11 || docs[0].Text != "Mulch?\n\nYes." {
		t.Errorf("training table should hold only the second run, got %+v", docs)
	}
}

func TestRunner_restartFromAssemble(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Index.Enabled = false
	writeRaw(t, cfg, samplePosts)
	store := openStore(t, cfg)

	if _, err := NewRunner(cfg, store).RunStages(ctx, StageClean); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountRows(ctx); n.Cleaned != 3 || n.Training != 0 {
		t.Fatalf("counts after clean = %+v", n)
	}
	if err := os.Remove(cfg.Dataset.RawPath); err != nil {
		t.Fatal(err)
	}

	report, err := NewRunner(cfg, store).Run(ctx, StageAssemble)
	if err != nil {
		t.Fatal(err)
	}
	if report.Clean != nil || report.Assemble.Pairs != 1 {
		t.Errorf("report = %+v", report)
	}
	docs, _ := store.LoadTrainingDocuments(ctx)
	if len(docs) != 1 || docs[0].Text != wantDoc.Text {
		t.Errorf("docs = %+v", docs)
	}
}

func TestRunner_missingRawDump(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	report, err := NewRunner(cfg, store).Run(context.Background(), StageClean)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(report.Stages) != 1 || report.Stages[0].Stage != StageClean {
		t.Errorf("stages = %+v", report.Stages)
	}
}

func TestRunner_fromFetch(t *testing.T) {
	archive, err := os.ReadFile(filepath.Join("..", "acquire", "testdata", "gardening.7z"))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Dataset.URL = srv.URL
	store := openStore(t, cfg)
	fetcher := acquire.NewFetcher(cfg.Dataset, acquire.WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 1)
	}))
	r := NewRunner(cfg, store, WithFetcher(fetcher))
	defer r.Close()

	report, err := r.Run(context.Background(), StageFetch)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Fetch.Downloaded || !report.Fetch.Extracted {
		t.Errorf("fetch = %+v", report.Fetch)
	}
	if len(report.Stages) != len(Stages) {
		t.Errorf("expected every stage in the report, got %+v", report.Stages)
	}
	docs, _ := store.LoadTrainingDocuments(context.Background())
	if len(docs) != 1 || docs[0].Source != wantDoc.Source || docs[0].Text != wantDoc.Text {
		t.Errorf("docs = %+v", docs)
	}
}

type fakeSummarizer struct {
	calls int
	fail  string
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls++
	if strings.Contains(text, f.fail) && f.fail != "" {
		return "", errors.New("model unavailable")
	}
	return "summary", nil
}

func (f *fakeSummarizer) Close() error { return nil }

func TestRunner_summarizeAugment(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Index.Enabled = false
	cfg.Summarize.Enabled = true
	cfg.Summarize.Mode = config.SummarizeModeAugment
	cfg.Summarize.Threshold = 20
	writeRaw(t, cfg, samplePosts)
	store := openStore(t, cfg)

	fake := &fakeSummarizer{}
	r := NewRunner(cfg, store, WithSummarizer(lazy.Ready[summarize.Summarizer](fake)))
	report, err := r.Run(ctx, StageClean)
	if err != nil {
		t.Fatal(err)
	}
	if report.Summarize.Summarized != 1 || fake.calls != 1 {
		t.Errorf("summarize = %+v, calls = %d", report.Summarize, fake.calls)
	}
	docs, _ := store.LoadTrainingDocuments(ctx)
	if len(docs) != 1 || docs[0].Text != wantDoc.Text || docs[0].TextShort == nil || *docs[0].TextShort != "summary" {
		t.Errorf("docs = %+v", docs)
	}
}

type flakyEmbedder struct {
	*embedding.MockEmbedder
	bad string
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, f.bad) {
		return nil, errors.New("token limit exceeded")
	}
	return f.MockEmbedder.Embed(ctx, text)
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestRunner_indexSkipsFailedEmbeddings(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := openStore(t, cfg)
	docs := []models.TrainingDocument{
		{Source: 2, Text: "How to water roses?\n\nWater daily."},
		{Source: 7, Text: "Huge question\n\nHuge answer"},
		{Source: 8, Text: "Compost?\n\nTurn it weekly."},
	}
	if err := store.SaveTrainingDocuments(ctx, docs); err != nil {
		t.Fatal(err)
	}

	emb := &flakyEmbedder{MockEmbedder: embedding.NewMockEmbedder(16), bad: "Huge"}
	r := NewRunner(cfg, store, WithEmbedder(lazy.Ready[embedding.Embedder](emb)))
	report, err := r.RunStages(ctx, StageIndex)
	if err != nil {
		t.Fatal(err)
	}
	if report.Index.Indexed != 2 || report.Index.Skipped != 1 {
		t.Errorf("index = %+v", report.Index)
	}
	stored, ok, err := store.GetMeta(ctx, embedding.MetaKey)
	if err != nil || !ok {
		t.Fatalf("meta = %q, %v, %v", stored, ok, err)
	}
	if id, _ := embedding.ParseIdentity(stored); id != embedding.IdentityOf(emb) {
		t.Errorf("stored identity = %+v", id)
	}
}

func TestRunner_cancelled(t *testing.T) {
	cfg := testConfig(t)
	writeRaw(t, cfg, samplePosts)
	store := openStore(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRunner(cfg, store).Run(ctx, StageClean); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
