// Package sqlite provides a versioned blob store kept in a single SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/meigma/codondb/store"
)

const (
	// DefaultName is the logical name of the store.
	DefaultName = "codonDbCache"

	// DefaultVersion is the schema version used when none is configured.
	DefaultVersion = 1

	schema = `CREATE TABLE IF NOT EXISTS blobs (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	digest TEXT NOT NULL,
	encoding TEXT NOT NULL
)`
)

// Store implements store.Store on top of a SQLite table.
// It is safe for concurrent use.
type Store struct {
	dir         string
	name        string
	version     int
	compression store.Compression
	logger      *slog.Logger

	mu    sync.Mutex
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithName sets the logical store name. Defaults to [DefaultName].
func WithName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// WithVersion sets the schema version embedded in the database file name.
func WithVersion(v int) Option {
	return func(s *Store) {
		s.version = v
	}
}

// WithCompression sets how payloads are encoded at rest.
func WithCompression(c store.Compression) Option {
	return func(s *Store) {
		s.compression = c
	}
}

// WithLogger sets the logger used to report discarded entries.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a store whose database file lives in dir. The file and its
// table are created on first use.
func New(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store dir is empty")
	}
	s := &Store{
		dir:     filepath.Clean(dir),
		name:    DefaultName,
		version: DefaultVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.name == "" || strings.ContainsAny(s.name, `/\`) {
		return nil, fmt.Errorf("invalid store name %q", s.name)
	}
	if s.version < 1 {
		return nil, errors.New("store version must be >= 1")
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// Path returns the database file backing this version of the store.
func (s *Store) Path() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-v%d.db", s.name, s.version))
}

// Open creates the database file and blobs table if needed.
func (s *Store) Open(ctx context.Context) error {
	_, err := s.db(ctx)
	return err
}

func (s *Store) db(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sqlDB != nil {
		return s.sqlDB, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, store.Wrap("open", "", err)
	}
	dsn := s.Path() + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, store.Wrap("open", "", fmt.Errorf("open sqlite db: %w", err))
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, store.Wrap("open", "", fmt.Errorf("create blobs table: %w", err))
	}
	s.sqlDB = sqlDB
	return sqlDB, nil
}

// Get returns the payload stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, store.Wrap("get", key, errors.New("key is empty"))
	}
	sqlDB, err := s.db(ctx)
	if err != nil {
		return nil, false, err
	}

	var (
		raw      []byte
		dgst     string
		encoding string
	)
	err = sqlDB.QueryRowContext(ctx,
		`SELECT data, digest, encoding FROM blobs WHERE key = ?`, key,
	).Scan(&raw, &dgst, &encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Wrap("get", key, err)
	}

	c, err := store.ParseCompression(encoding)
	if err != nil || c != s.compression {
		return nil, false, nil
	}
	data, err := verify(c, raw, dgst)
	if err != nil {
		s.logger.Warn("discarding unverifiable store entry", "key", key, "err", err)
		s.discard(ctx, sqlDB, key, dgst)
		return nil, false, nil
	}
	return data, true, nil
}

func verify(c store.Compression, raw []byte, dgst string) ([]byte, error) {
	data, err := store.Decode(c, raw)
	if err != nil {
		return nil, err
	}
	expected, err := digest.Parse(dgst)
	if err != nil {
		return nil, fmt.Errorf("parse digest: %w", err)
	}
	if got := digest.FromBytes(data); got != expected {
		return nil, fmt.Errorf("digest mismatch: got %s, want %s", got, expected)
	}
	return data, nil
}

// discard deletes the row for key unless a concurrent Put already
// replaced it.
func (s *Store) discard(ctx context.Context, sqlDB *sql.DB, key, dgst string) {
	if _, err := sqlDB.ExecContext(ctx, `DELETE FROM blobs WHERE key = ? AND digest = ?`, key, dgst); err != nil {
		s.logger.Warn("failed to delete store entry", "key", key, "err", err)
	}
}

// Put stores data under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return store.Wrap("put", key, errors.New("key is empty"))
	}
	sqlDB, err := s.db(ctx)
	if err != nil {
		return err
	}
	encoded, err := store.Encode(s.compression, data)
	if err != nil {
		return store.Wrap("put", key, err)
	}
	_, err = sqlDB.ExecContext(ctx,
		`INSERT INTO blobs (key, data, digest, encoding) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, digest = excluded.digest, encoding = excluded.encoding`,
		key, encoded, digest.FromBytes(data).String(), s.compression.String(),
	)
	if err != nil {
		return store.Wrap("put", key, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sqlDB == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.sqlDB = nil
	return err
}
