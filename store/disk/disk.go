// Package disk provides a versioned, filesystem-backed blob store.
//
// Each store version lives in its own directory (<dir>/<name>-v<version>).
// Each entry is a single file holding a digest line followed by the encoded
// payload. Entries are written to a temporary file and renamed into place,
// so readers see either the old entry or the new one, and the digest is
// verified on every read.
package disk

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/codondb/store"
)

const (
	// DefaultName is the logical name of the store.
	DefaultName = "codonDbCache"

	// DefaultVersion is the schema version used when none is configured.
	DefaultVersion = 1

	defaultDirPerm = 0o700
	zstdSuffix     = ".zst"
)

// Store implements store.Store on the local filesystem.
// It is safe for concurrent use.
type Store struct {
	dir         string
	name        string
	version     int
	dirPerm     os.FileMode
	compression store.Compression
	logger      *slog.Logger

	mu     sync.Mutex
	opened bool
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

// WithVersion sets the schema version embedded in the store identity.
// Defaults to [DefaultVersion].
func WithVersion(v int) Option {
	return func(s *Store) {
		s.version = v
	}
}

// WithDirPerm sets the permissions used for the store directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithCompression sets how payloads are encoded at rest.
// Entries written with a different compression are not visible.
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

// New returns a disk store rooted at dir. No filesystem access happens
// until the first Open, Get or Put.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store dir is empty")
	}
	s := &Store{
		dir:     dir,
		name:    DefaultName,
		version: DefaultVersion,
		dirPerm: defaultDirPerm,
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

// Path returns the directory holding this version of the store.
func (s *Store) Path() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-v%d", s.name, s.version))
}

// Open creates the store directory if needed.
func (s *Store) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("open", "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	if err := os.MkdirAll(s.Path(), s.dirPerm); err != nil {
		return store.Wrap("open", "", err)
	}
	s.opened = true
	return nil
}

// Get returns the payload stored under key.
//
// Entries whose digest does not verify are deleted and reported as missing.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.Open(ctx); err != nil {
		return nil, false, err
	}
	name, err := s.entryName(key)
	if err != nil {
		return nil, false, store.Wrap("get", key, err)
	}

	root, err := os.OpenRoot(s.Path())
	if err != nil {
		return nil, false, store.Wrap("get", key, err)
	}
	defer root.Close()

	raw, err := root.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Wrap("get", key, err)
	}

	data, err := s.verify(raw)
	if err != nil {
		s.logger.Warn("discarding unverifiable store entry", "key", key, "err", err)
		s.removeIfUnchanged(root, name, raw)
		return nil, false, nil
	}
	return data, true, nil
}

// Put stores data under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	name, err := s.entryName(key)
	if err != nil {
		return store.Wrap("put", key, err)
	}
	encoded, err := store.Encode(s.compression, data)
	if err != nil {
		return store.Wrap("put", key, err)
	}

	root, err := os.OpenRoot(s.Path())
	if err != nil {
		return store.Wrap("put", key, err)
	}
	defer root.Close()

	header := digest.FromBytes(data).String() + "\n"
	entry := make([]byte, 0, len(header)+len(encoded))
	entry = append(entry, header...)
	entry = append(entry, encoded...)
	if err := writeAtomic(root, name, entry); err != nil {
		return store.Wrap("put", key, err)
	}
	return nil
}

// verify splits an entry into its digest line and payload, decodes the
// payload and checks it against the digest.
func (s *Store) verify(raw []byte) ([]byte, error) {
	line, payload, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return nil, errors.New("missing digest header")
	}
	expected, err := digest.Parse(string(line))
	if err != nil {
		return nil, fmt.Errorf("parse digest: %w", err)
	}
	if !expected.Algorithm().Available() {
		return nil, fmt.Errorf("digest algorithm %q unavailable", expected.Algorithm())
	}
	data, err := store.Decode(s.compression, payload)
	if err != nil {
		return nil, err
	}
	if got := expected.Algorithm().FromBytes(data); got != expected {
		return nil, fmt.Errorf("digest mismatch: got %s, want %s", got, expected)
	}
	return data, nil
}

// removeIfUnchanged deletes name only if it still holds raw, so an entry
// a concurrent Put just renamed into place survives.
func (s *Store) removeIfUnchanged(root *os.Root, name string, raw []byte) {
	current, err := root.ReadFile(name)
	if err != nil || !bytes.Equal(current, raw) {
		return
	}
	_ = root.Remove(name) //nolint:errcheck // best-effort cleanup
}

func (s *Store) entryName(key string) (string, error) {
	if key == "" {
		return "", errors.New("key is empty")
	}
	name := hex.EncodeToString([]byte(key))
	if s.compression == store.CompressionZstd {
		name += zstdSuffix
	}
	return name, nil
}

func writeAtomic(root *os.Root, name string, data []byte) error {
	tmp, tmpPath, err := createTemp(root, "entry-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = root.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := root.Rename(tmpPath, name); err != nil {
		_ = root.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func createTemp(root *os.Root, pattern string) (*os.File, string, error) {
	for tries := 0; tries < 10000; tries++ {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := "." + strings.Replace(pattern, "*", hex.EncodeToString(randBytes[:]), 1)
		f, err := root.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, name, nil
	}
	return nil, "", errors.New("failed to create temp file")
}
