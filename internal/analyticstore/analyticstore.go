// Package analyticstore is the embedded analytic store of spec C8: a
// single-writer SQL engine that ingestion (C12) bulk-loads into and the
// bulk-static provider adapter queries read-only. Backed by
// modernc.org/sqlite (the Python original's DuckDB has no Go binding in the
// retrieved example pack; see DESIGN.md for the substitution rationale),
// grounded on theRebelliousNerd-codenerd's plain database/sql usage.
package analyticstore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Row is a single query result row, column name to value.
type Row map[string]interface{}

// request is a unit of work handed to the single worker goroutine so every
// statement against the database executes from one owning goroutine (spec
// §9: "single-owner workers reached via message passing").
type request struct {
	fn   func(*sql.DB) (interface{}, error)
	resp chan result
}

type result struct {
	value interface{}
	err   error
}

// Store serializes all access to one sqlite database file through a single
// worker.
type Store struct {
	db      *sql.DB
	work    chan request
	done    chan struct{}
	dataDir string
}

// Open creates (or attaches to) the sqlite file at path and starts the
// worker loop. dataDir is created if missing; LoadColumnar does not use it,
// since it stages rows in a "<table>__staging" table inside the database.
func Open(path, dataDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("analyticstore: mkdir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("analyticstore: mkdir scratch: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("analyticstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite + single-writer discipline

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS table_metadata (
		table_name TEXT PRIMARY KEY,
		row_count INTEGER NOT NULL,
		loaded_at TEXT NOT NULL,
		source_path TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("analyticstore: create metadata table: %w", err)
	}

	s := &Store{db: db, work: make(chan request), done: make(chan struct{}), dataDir: dataDir}
	go s.loop()
	return s, nil
}

func (s *Store) loop() {
	for {
		select {
		case req := <-s.work:
			value, err := req.fn(s.db)
			req.resp <- result{value: value, err: err}
		case <-s.done:
			return
		}
	}
}

func (s *Store) submit(ctx context.Context, fn func(*sql.DB) (interface{}, error)) (interface{}, error) {
	req := request{fn: fn, resp: make(chan result, 1)}
	select {
	case s.work <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("analyticstore: closed")
	}
	select {
	case r := <-req.resp:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker and closes the underlying database.
func (s *Store) Close() error {
	close(s.done)
	return s.db.Close()
}

// Execute runs a parameterized query and returns its rows. params are
// passed positionally to driver placeholders (`?`) rather than interpolated
// into the SQL text (spec Open Question: parameterized interval SQL, see
// DESIGN.md).
func (s *Store) Execute(ctx context.Context, query string, params ...interface{}) ([]Row, error) {
	value, err := s.submit(ctx, func(db *sql.DB) (interface{}, error) {
		rows, err := db.QueryContext(ctx, query, params...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}

		var out []Row
		for rows.Next() {
			values := make([]interface{}, len(cols))
			pointers := make([]interface{}, len(cols))
			for i := range values {
				pointers[i] = &values[i]
			}
			if err := rows.Scan(pointers...); err != nil {
				return nil, err
			}
			row := make(Row, len(cols))
			for i, col := range cols {
				row[col] = values[i]
			}
			out = append(out, row)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return value.([]Row), nil
}

// LoadResult summarizes a completed columnar load.
type LoadResult struct {
	Table    string
	RowCount int64
	LoadedAt time.Time
}

// LoadColumnar atomically replaces table's contents from a CSV file (the
// practical stand-in for the original Parquet input; no Parquet reader
// exists anywhere in the retrieved pack). It stages into a shadow table,
// then swaps via rename so readers never observe a partially loaded table,
// then upserts table_metadata — the stage/rename-swap/metadata-upsert
// protocol of spec §4.7.
func (s *Store) LoadColumnar(ctx context.Context, table, csvPath string, now time.Time) (*LoadResult, error) {
	value, err := s.submit(ctx, func(db *sql.DB) (interface{}, error) {
		return loadColumnarTx(ctx, db, table, csvPath, now)
	})
	if err != nil {
		return nil, err
	}
	return value.(*LoadResult), nil
}

func loadColumnarTx(ctx context.Context, db *sql.DB, table, csvPath string, now time.Time) (*LoadResult, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	stagingTable := table + "__staging"

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", stagingTable)); err != nil {
		return nil, err
	}

	columnDefs := make([]string, len(header))
	for i, col := range header {
		columnDefs[i] = fmt.Sprintf("%q TEXT", col)
	}
	createSQL := fmt.Sprintf("CREATE TABLE %q (%s)", stagingTable, joinComma(columnDefs))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return nil, err
	}

	placeholders := make([]string, len(header))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %q VALUES (%s)", stagingTable, joinComma(placeholders))

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var rowCount int64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", rowCount, err)
		}
		values := make([]interface{}, len(record))
		for i, v := range record {
			values[i] = v
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return nil, fmt.Errorf("insert row %d: %w", rowCount, err)
		}
		rowCount++
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", table)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %q RENAME TO %q", stagingTable, table)); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO table_metadata (table_name, row_count, loaded_at, source_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			row_count = excluded.row_count,
			loaded_at = excluded.loaded_at,
			source_path = excluded.source_path
	`, table, rowCount, now.Format(time.RFC3339), csvPath); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &LoadResult{Table: table, RowCount: rowCount, LoadedAt: now}, nil
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}

// Metadata returns the table_metadata row for a table, or ok=false if it
// has never been loaded.
func (s *Store) Metadata(ctx context.Context, table string) (*LoadResult, bool, error) {
	rows, err := s.Execute(ctx, `SELECT table_name, row_count, loaded_at FROM table_metadata WHERE table_name = ?`, table)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	row := rows[0]
	loadedAt, _ := time.Parse(time.RFC3339, fmt.Sprintf("%v", row["loaded_at"]))
	rowCount, _ := row["row_count"].(int64)
	return &LoadResult{Table: table, RowCount: rowCount, LoadedAt: loadedAt}, true, nil
}
