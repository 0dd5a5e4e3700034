package codondb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/codondb/download"
	"github.com/meigma/codondb/engine"
	"github.com/meigma/codondb/store"
	"github.com/meigma/codondb/store/disk"
)

const (
	// DefaultURL is the public codon usage snapshot.
	DefaultURL = "https://multimizer-public-files.s3.us-east-2.amazonaws.com/codon.db"

	// DefaultCacheKey is the store key the snapshot is kept under.
	DefaultCacheKey = "codon.db"
)

// Option configures a Session.
type Option func(*Session) error

// WithURL sets the snapshot endpoint. Defaults to [DefaultURL].
func WithURL(url string) Option {
	return func(s *Session) error {
		if url == "" {
			return errors.New("snapshot url is empty")
		}
		s.url = url
		return nil
	}
}

// WithCacheKey sets the store key. Defaults to [DefaultCacheKey].
func WithCacheKey(key string) Option {
	return func(s *Session) error {
		if key == "" {
			return errors.New("cache key is empty")
		}
		s.key = key
		return nil
	}
}

// WithStore sets the persistent store.
// Without it, a disk store under the user cache directory is used.
func WithStore(st store.Store) Option {
	return func(s *Session) error {
		s.store = st
		return nil
	}
}

// WithCacheDir uses a disk store rooted at dir.
func WithCacheDir(dir string, opts ...disk.Option) Option {
	return func(s *Session) error {
		st, err := disk.New(dir, opts...)
		if err != nil {
			return err
		}
		s.store = st
		return nil
	}
}

// WithFetcher sets how the snapshot is downloaded.
// Defaults to a [download.Downloader] with default options.
func WithFetcher(f Fetcher) Option {
	return func(s *Session) error {
		s.fetcher = f
		return nil
	}
}

// WithEngineOptions sets options passed to [engine.Build].
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Session) error {
		s.engineOpts = append(s.engineOpts, opts...)
		return nil
	}
}

// WithLogger sets the session logger.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

// New creates a session in the Uninitialized state. Nothing is read or
// downloaded until [Session.Init] or [Session.Start].
func New(opts ...Option) (*Session, error) {
	s := &Session{
		url:      DefaultURL,
		key:      DefaultCacheKey,
		progress: newBroadcaster(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.store == nil {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("locate cache dir: %w", err)
		}
		st, err := disk.New(filepath.Join(dir, "codondb"), disk.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.store = st
	}
	if s.fetcher == nil {
		d, err := download.New(download.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.fetcher = d
	}
	return s, nil
}
