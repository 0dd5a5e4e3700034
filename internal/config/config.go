// Package config loads codondb settings from defaults, an optional TOML
// file, and CODONDB_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/codondb"
	"github.com/meigma/codondb/download"
	"github.com/meigma/codondb/store"
	"github.com/meigma/codondb/store/disk"
	"github.com/meigma/codondb/store/sqlite"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CODONDB_"

// Store backends.
const (
	StoreDisk   = "disk"
	StoreSQLite = "sqlite"
)

// Config holds every setting the CLI and API server need.
type Config struct {
	URL          string        `toml:"url" env:"URL"`
	CacheDir     string        `toml:"cache_dir" env:"CACHE_DIR"`
	Store        string        `toml:"store" env:"STORE"`
	StoreVersion int           `toml:"store_version" env:"STORE_VERSION"`
	CacheKey     string        `toml:"cache_key" env:"CACHE_KEY"`
	Compression  string        `toml:"compression" env:"COMPRESSION"`
	Digest       string        `toml:"digest" env:"DIGEST"`
	RateLimit    int           `toml:"rate_limit" env:"RATE_LIMIT"`
	ChunkSize    int           `toml:"chunk_size" env:"CHUNK_SIZE"`
	Timeout      time.Duration `toml:"timeout" env:"TIMEOUT"`
	LogLevel     string        `toml:"log_level" env:"LOG_LEVEL"`
	Listen       string        `toml:"listen" env:"LISTEN"`
}

// Default returns the built-in settings.
func Default() Config {
	cacheDir := filepath.Join(os.TempDir(), "codondb")
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "codondb")
	}
	return Config{
		URL:          codondb.DefaultURL,
		CacheDir:     cacheDir,
		Store:        StoreDisk,
		StoreVersion: disk.DefaultVersion,
		CacheKey:     codondb.DefaultCacheKey,
		Compression:  store.CompressionNone.String(),
		ChunkSize:    download.DefaultChunkSize,
		Timeout:      5 * time.Minute,
		LogLevel:     "info",
		Listen:       "127.0.0.1:8080",
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides from the process environment.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load is Load with an explicit environment. A nil environ means the
// process environment.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("read config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.URL == "":
		return errors.New("url is empty")
	case c.CacheDir == "":
		return errors.New("cache_dir is empty")
	case c.CacheKey == "":
		return errors.New("cache_key is empty")
	case c.StoreVersion < 1:
		return fmt.Errorf("store_version must be >= 1, got %d", c.StoreVersion)
	case c.RateLimit < 0:
		return fmt.Errorf("rate_limit must be >= 0, got %d", c.RateLimit)
	case c.ChunkSize < 0:
		return fmt.Errorf("chunk_size must be >= 0, got %d", c.ChunkSize)
	case c.Timeout < 0:
		return fmt.Errorf("timeout must be >= 0, got %s", c.Timeout)
	}
	if c.Store != StoreDisk && c.Store != StoreSQLite {
		return fmt.Errorf("store must be %q or %q, got %q", StoreDisk, StoreSQLite, c.Store)
	}
	if _, err := store.ParseCompression(c.Compression); err != nil {
		return err
	}
	if c.Digest != "" {
		if _, err := digest.Parse(c.Digest); err != nil {
			return fmt.Errorf("digest: %w", err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// NewStore builds the configured persistent store.
func (c *Config) NewStore(logger *slog.Logger) (store.Store, error) {
	compression, err := store.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	switch c.Store {
	case StoreSQLite:
		return sqlite.New(c.CacheDir,
			sqlite.WithVersion(c.StoreVersion),
			sqlite.WithCompression(compression),
			sqlite.WithLogger(logger),
		)
	case StoreDisk:
		return disk.New(c.CacheDir,
			disk.WithVersion(c.StoreVersion),
			disk.WithCompression(compression),
			disk.WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unknown store %q", c.Store)
	}
}

// DownloadOptions returns the downloader settings.
func (c *Config) DownloadOptions(logger *slog.Logger) ([]download.Option, error) {
	opts := []download.Option{
		download.WithClient(&nethttp.Client{Timeout: c.Timeout}),
		download.WithChunkSize(c.ChunkSize),
		download.WithRateLimit(c.RateLimit),
		download.WithLogger(logger),
	}
	if c.Digest != "" {
		dgst, err := digest.Parse(c.Digest)
		if err != nil {
			return nil, fmt.Errorf("digest: %w", err)
		}
		opts = append(opts, download.WithDigest(dgst))
	}
	return opts, nil
}

// SessionOptions returns everything needed to construct a session.
// The returned store is also handed back so the caller can close it.
func (c *Config) SessionOptions(logger *slog.Logger) ([]codondb.Option, store.Store, error) {
	st, err := c.NewStore(logger)
	if err != nil {
		return nil, nil, err
	}
	dlOpts, err := c.DownloadOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	fetcher, err := download.New(dlOpts...)
	if err != nil {
		return nil, nil, err
	}
	return []codondb.Option{
		codondb.WithURL(c.URL),
		codondb.WithCacheKey(c.CacheKey),
		codondb.WithStore(st),
		codondb.WithFetcher(fetcher),
		codondb.WithLogger(logger),
	}, st, nil
}
