package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/stackprep/internal/models"
)

var testTables = Tables{Cleaned: "gardening_dataset", Training: "gardening_training_dataset"}

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "db", "test.db"), testTables)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStorage_tableNames(t *testing.T) {
	dir := t.TempDir()
	bad := []Tables{
		{Cleaned: "posts; DROP TABLE x", Training: "t"},
		{Cleaned: "", Training: "t"},
		{Cleaned: "same", Training: "same"},
	}
	for _, tables := range bad {
		if _, err := NewSQLiteStorage(filepath.Join(dir, "x.db"), tables); err == nil {
			t.Errorf("expected error for %+v", tables)
		}
	}
}

func TestSQLiteStorage_CleanedPosts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.LoadCleanedPosts(ctx); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}

	posts := []models.CleanedPost{
		{ID: 1, Body: "How to water roses?"},
		{ID: 2, ParentID: models.Int64Ptr(1), Body: "Water daily."},
	}
	if err := store.SaveCleanedPosts(ctx, posts); err != nil {
		t.Fatal(err)
	}
	got, err := store.LoadCleanedPosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, posts) {
		t.Errorf("got %+v, want %+v", got, posts)
	}

	// Overwrite replaces all rows.
	if err := store.SaveCleanedPosts(ctx, posts[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = store.LoadCleanedPosts(ctx)
	if len(got) != 1 {
		t.Errorf("overwrite left %d rows", len(got))
	}
}

func TestSQLiteStorage_idempotentOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	posts := []models.CleanedPost{{ID: 3, Body: "b"}, {ID: 1, Body: "a"}}
	_ = store.SaveCleanedPosts(ctx, posts)
	first, _ := store.LoadCleanedPosts(ctx)
	_ = store.SaveCleanedPosts(ctx, posts)
	second, _ := store.LoadCleanedPosts(ctx)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("rerun changed table: %+v vs %+v", first, second)
	}
}

func TestSQLiteStorage_duplicateIDRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveCleanedPosts(ctx, []models.CleanedPost{{ID: 9, Body: "kept"}})
	err := store.SaveCleanedPosts(ctx, []models.CleanedPost{{ID: 1, Body: "a"}, {ID: 1, Body: "b"}})
	if err == nil {
		t.Fatal("expected primary key error")
	}
	got, _ := store.LoadCleanedPosts(ctx)
	if len(got) != 1 || got[0].ID != 9 {
		t.Errorf("failed overwrite should leave previous table intact, got %+v", got)
	}
}

func TestSQLiteStorage_TrainingDocumentsSchemaMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	plain := []models.TrainingDocument{{Source: 2, Text: "Q\n\nA"}}
	if err := store.SaveTrainingDocuments(ctx, plain); err != nil {
		t.Fatal(err)
	}
	cols, _ := store.columns(ctx, testTables.Training)
	if cols["text_short"] {
		t.Error("text_short should not exist before any short text is written")
	}

	augmented := []models.TrainingDocument{
		{Source: 2, Text: "Q\n\nA", TextShort: models.StringPtr("short")},
		{Source: 5, Text: "Q2\n\nA2", TextShort: models.StringPtr("Q2\n\nA2")},
	}
	if err := store.SaveTrainingDocuments(ctx, augmented); err != nil {
		t.Fatal(err)
	}
	got, err := store.LoadTrainingDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, augmented) {
		t.Errorf("got %+v", got)
	}

	// A later plain run keeps the column but replaces the rows.
	if err := store.SaveTrainingDocuments(ctx, plain); err != nil {
		t.Fatal(err)
	}
	cols, _ = store.columns(ctx, testTables.Training)
	if !cols["text_short"] {
		t.Error("merged column should be kept")
	}
	got, _ = store.LoadTrainingDocuments(ctx)
	if len(got) != 1 || got[0].TextShort != nil {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteStorage_GetTrainingDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.SaveTrainingDocuments(ctx, []models.TrainingDocument{
		{Source: 2, Text: "a"}, {Source: 5, Text: "b"}, {Source: 7, Text: "c"},
	})
	got, err := store.GetTrainingDocuments(ctx, []int64{7, 2, 99})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[7].Text != "c" || got[2].Text != "a" {
		t.Errorf("got %+v", got)
	}
	empty, err := store.GetTrainingDocuments(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty lookup = %v, %v", empty, err)
	}
}

func TestSQLiteStorage_CountRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	counts, err := store.CountRows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts != (TableCounts{}) {
		t.Errorf("fresh counts = %+v", counts)
	}
	_ = store.SaveCleanedPosts(ctx, []models.CleanedPost{{ID: 1, Body: "a"}, {ID: 2, Body: "b"}})
	counts, _ = store.CountRows(ctx)
	if counts.Cleaned != 2 || counts.Training != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestSQLiteStorage_Meta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, ok, err := store.GetMeta(ctx, "embedding_model"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	_ = store.SetMeta(ctx, "embedding_model", "a")
	if err := store.SetMeta(ctx, "embedding_model", "b"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := store.GetMeta(ctx, "embedding_model")
	if err != nil || !ok || v != "b" {
		t.Errorf("GetMeta = %q, %v, %v", v, ok, err)
	}
}
