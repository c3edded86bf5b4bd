package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/stackprep/internal/models"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// column describes one column of a managed table. create is used in CREATE
// TABLE; add is used when the column has to be added to an existing table.
type column struct {
	name   string
	create string
	add    string
}

var (
	cleanedColumns = []column{
		{"id", "id INTEGER PRIMARY KEY", "id INTEGER"},
		{"parent_id", "parent_id INTEGER", "parent_id INTEGER"},
		{"body", "body TEXT NOT NULL", "body TEXT NOT NULL DEFAULT ''"},
	}
	trainingColumns = []column{
		{"source", "source INTEGER PRIMARY KEY", "source INTEGER"},
		{"text", "text TEXT NOT NULL", "text TEXT NOT NULL DEFAULT ''"},
	}
	textShortColumn = column{"text_short", "text_short TEXT", "text_short TEXT"}
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	tables Tables
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string, tables Tables) (*SQLiteStorage, error) {
	for _, name := range []string{tables.Cleaned, tables.Training} {
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	if tables.Cleaned == tables.Training {
		return nil, fmt.Errorf("cleaned and training tables must differ")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, tables: tables}, nil
}

// SaveCleanedPosts replaces the cleaned table.
func (s *SQLiteStorage) SaveCleanedPosts(ctx context.Context, posts []models.CleanedPost) error {
	return s.overwrite(ctx, s.tables.Cleaned, cleanedColumns, len(posts), func(i int) []any {
		p := posts[i]
		var parent any
		if p.ParentID != nil {
			parent = *p.ParentID
		}
		return []any{p.ID, parent, p.Body}
	})
}

// LoadCleanedPosts returns the cleaned table ordered by id.
func (s *SQLiteStorage) LoadCleanedPosts(ctx context.Context) ([]models.CleanedPost, error) {
	if err := s.requireTable(ctx, s.tables.Cleaned); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, parent_id, body FROM %s ORDER BY id`, s.tables.Cleaned))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.CleanedPost
	for rows.Next() {
		var p models.CleanedPost
		var parent sql.NullInt64
		if err := rows.Scan(&p.ID, &parent, &p.Body); err != nil {
			return nil, err
		}
		if parent.Valid {
			p.ParentID = models.Int64Ptr(parent.Int64)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// SaveTrainingDocuments replaces the training table. The text_short column is
// written only when at least one document carries a short text; it is added to
// the table the first time that happens and kept afterwards.
func (s *SQLiteStorage) SaveTrainingDocuments(ctx context.Context, docs []models.TrainingDocument) error {
	withShort := false
	for i := range docs {
		if docs[i].TextShort != nil {
			withShort = true
			break
		}
	}
	cols := trainingColumns
	if withShort {
		cols = append(append([]column{}, trainingColumns...), textShortColumn)
	}
	return s.overwrite(ctx, s.tables.Training, cols, len(docs), func(i int) []any {
		d := docs[i]
		if !withShort {
			return []any{d.Source, d.Text}
		}
		var short any
		if d.TextShort != nil {
			short = *d.TextShort
		}
		return []any{d.Source, d.Text, short}
	})
}

// LoadTrainingDocuments returns the training table ordered by source.
func (s *SQLiteStorage) LoadTrainingDocuments(ctx context.Context) ([]models.TrainingDocument, error) {
	rows, err := s.queryTraining(ctx, "")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []models.TrainingDocument
	for rows.Next() {
		d, err := scanTraining(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// GetTrainingDocuments returns the documents with the given sources.
func (s *SQLiteStorage) GetTrainingDocuments(ctx context.Context, sources []int64) (map[int64]*models.TrainingDocument, error) {
	out := make(map[int64]*models.TrainingDocument, len(sources))
	if len(sources) == 0 {
		return out, nil
	}
	args := make([]any, len(sources))
	for i, src := range sources {
		args[i] = src
	}
	where := "WHERE source IN (?" + strings.Repeat(",?", len(sources)-1) + ")"
	rows, err := s.queryTraining(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanTraining(rows)
		if err != nil {
			return nil, err
		}
		out[d.Source] = d
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) queryTraining(ctx context.Context, where string, args ...any) (*sql.Rows, error) {
	existing, err := s.columns(ctx, s.tables.Training)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, s.tables.Training)
	}
	short := "NULL"
	if existing[textShortColumn.name] {
		short = textShortColumn.name
	}
	q := fmt.Sprintf(`SELECT source, text, %s FROM %s %s ORDER BY source`, short, s.tables.Training, where)
	return s.db.QueryContext(ctx, q, args...)
}

func scanTraining(rows *sql.Rows) (*models.TrainingDocument, error) {
	var d models.TrainingDocument
	var short sql.NullString
	if err := rows.Scan(&d.Source, &d.Text, &short); err != nil {
		return nil, err
	}
	if short.Valid {
		d.TextShort = models.StringPtr(short.String)
	}
	return &d, nil
}

// CountRows returns the row counts of both tables.
func (s *SQLiteStorage) CountRows(ctx context.Context) (TableCounts, error) {
	var counts TableCounts
	var err error
	if counts.Cleaned, err = s.count(ctx, s.tables.Cleaned); err != nil {
		return counts, err
	}
	counts.Training, err = s.count(ctx, s.tables.Training)
	return counts, err
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int, error) {
	if err := s.requireTable(ctx, table); err != nil {
		if errors.Is(err, ErrTableNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}

// SetMeta stores value under key.
func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_meta (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	return err
}

// GetMeta returns the value stored under key.
func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
