// Package engine turns a downloaded SQLite snapshot into a read-only,
// queryable engine.
//
// The engine holds no caching state of its own: build it once per snapshot
// and keep the handle for the lifetime of the data.
package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// sqliteMagic is the header every SQLite database file starts with.
var sqliteMagic = []byte("SQLite format 3\x00")

// Result is the first result set produced by a statement.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Engine executes statements against an in-process snapshot.
// It is safe for concurrent use.
type Engine struct {
	sqlDB *sql.DB
	path  string

	closeOnce sync.Once
	closeErr  error
}

type config struct {
	tempDir string
	maxConn int
}

// Option configures Build.
type Option func(*config)

// WithTempDir sets where the snapshot image is materialized.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *config) {
		c.tempDir = dir
	}
}

// WithMaxOpenConns limits concurrent connections to the snapshot.
// Zero means unlimited.
func WithMaxOpenConns(n int) Option {
	return func(c *config) {
		c.maxConn = n
	}
}

// Build parses data as a snapshot image and returns an engine over it.
// Any failure wraps [ErrInit].
func Build(ctx context.Context, data []byte, opts ...Option) (*Engine, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !bytes.HasPrefix(data, sqliteMagic) {
		return nil, fmt.Errorf("%w: missing sqlite header", ErrInit)
	}

	f, err := os.CreateTemp(cfg.tempDir, "codondb-*.db")
	if err != nil {
		return nil, fmt.Errorf("%w: create image: %w", ErrInit, err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: write image: %w", ErrInit, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: close image: %w", ErrInit, err)
	}

	dsn := (&url.URL{
		Scheme:   "file",
		Path:     path,
		RawQuery: "mode=ro&immutable=1&_pragma=query_only(1)",
	}).String()
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: open: %w", ErrInit, err)
	}
	if cfg.maxConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.maxConn)
	}

	var tables int
	if err := sqlDB.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&tables); err != nil {
		_ = sqlDB.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	return &Engine{sqlDB: sqlDB, path: path}, nil
}

// Execute runs one statement with named parameters and returns its first
// result set, or nil when the statement produces none.
// Failures wrap [ErrQuery].
func (e *Engine) Execute(ctx context.Context, query string, params Params) (*Result, error) {
	stmt, err := Bind(query, params)
	if err != nil {
		return nil, err
	}
	rows, err := e.sqlDB.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	if len(cols) == 0 {
		return nil, nil //nolint:nilnil // statements without a result set have no result
	}

	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQuery, err)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return res, nil
}

// Close releases the engine and removes its snapshot image.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = errors.Join(e.sqlDB.Close(), os.Remove(e.path))
	})
	return e.closeErr
}
