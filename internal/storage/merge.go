package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// overwrite replaces the contents of table in one transaction. The table is
// created if missing; columns in cols that the table lacks are added, and
// columns the table has beyond cols are kept and left NULL for the new rows.
// row(i) returns the values of row i in cols order.
func (s *SQLiteStorage) overwrite(ctx context.Context, table string, cols []column, n int, row func(i int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := mergeSchema(ctx, tx, table, cols); err != nil {
		return fmt.Errorf("merge schema of %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(names, ", "), placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func mergeSchema(ctx context.Context, tx *sql.Tx, table string, cols []column) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c.create
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, table, strings.Join(defs, ", "))); err != nil {
		return err
	}
	existing, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, table, c.add)); err != nil {
			return err
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// tableColumns returns the column names of table. A missing table has no columns.
func tableColumns(ctx context.Context, q queryer, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (s *SQLiteStorage) columns(ctx context.Context, table string) (map[string]bool, error) {
	return tableColumns(ctx, s.db, table)
}

func (s *SQLiteStorage) requireTable(ctx context.Context, table string) error {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return nil
}
