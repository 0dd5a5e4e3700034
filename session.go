package codondb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/codondb/download"
	"github.com/meigma/codondb/engine"
	"github.com/meigma/codondb/store"
)

// ErrClosed is returned by Query after Close.
var ErrClosed = errors.New("codondb: session closed")

// Re-exported engine types.
type (
	// Params binds values to named placeholders such as ":org".
	Params = engine.Params

	// Result is the first result set produced by a statement.
	Result = engine.Result
)

// Fetcher downloads a snapshot, reporting progress as it goes.
// [download.Downloader] is the default implementation.
type Fetcher interface {
	Download(ctx context.Context, url string, onProgress download.ProgressFunc) ([]byte, error)
}

// Diagnostics records how the last initialization went.
type Diagnostics struct {
	// Err is the original initialization error, unsanitized.
	Err error

	// PersistErr is a failure to write the downloaded snapshot to the
	// store. It does not fail the session.
	PersistErr error

	// FromCache reports whether the snapshot came from the store.
	FromCache bool

	// Bytes is the snapshot size.
	Bytes int

	// Duration is the wall time initialization took.
	Duration time.Duration
}

// Session owns the one live query engine for a snapshot.
//
// Construct exactly one Session per process with [New] in the
// application's composition root and pass it to consumers. Initialization
// runs at most once: concurrent [Session.Init] calls share a single store
// lookup and download, and every caller observes the same outcome. A
// session that reaches Ready or Failed stays there; retrying requires a
// new Session.
type Session struct {
	url        string
	key        string
	store      store.Store
	fetcher    Fetcher
	engineOpts []engine.Option
	logger     *slog.Logger

	progress *broadcaster
	group    singleflight.Group

	mu     sync.RWMutex
	state  State
	err    error
	engine *engine.Engine
	diag   Diagnostics
	closed bool
}

// Start begins initialization in the background and returns immediately.
func (s *Session) Start() {
	go func() {
		_ = s.Init(context.Background()) //nolint:errcheck // outcome is observed through Status
	}()
}

// Init initializes the session, or joins an initialization already in
// flight, and returns its outcome.
//
// The work itself is not cancelled by ctx: once started, a download or
// build runs to completion. ctx only bounds how long this caller waits.
func (s *Session) Init(ctx context.Context) error {
	s.mu.RLock()
	state, err := s.state, s.err
	s.mu.RUnlock()
	if state.Terminal() {
		return err
	}

	ch := s.group.DoChan("init", func() (any, error) {
		return nil, s.initialize(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) initialize(ctx context.Context) error {
	// Double-check: an earlier flight may have finished between the
	// caller's fast path and acquiring the singleflight key.
	s.mu.Lock()
	if s.state.Terminal() {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.state = StateLoading
	s.mu.Unlock()

	start := time.Now()
	s.logger.Debug("initializing codon database", "url", s.url, "key", s.key)
	s.progress.publish(ProgressEvent{Stage: StageLookup})

	data, fromCache, persistErr, err := s.load(ctx)
	var eng *engine.Engine
	if err == nil {
		s.progress.publish(ProgressEvent{Stage: StageBuilding, Fraction: 1})
		eng, err = engine.Build(ctx, data, s.engineOpts...)
	}

	diag := Diagnostics{
		Err:        err,
		PersistErr: persistErr,
		FromCache:  fromCache,
		Bytes:      len(data),
		Duration:   time.Since(start),
	}

	s.mu.Lock()
	s.diag = diag
	if err != nil {
		s.state = StateFailed
		s.err = err
	} else {
		s.state = StateReady
		s.engine = eng
		if s.closed {
			_ = eng.Close()
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("codon database failed to load", "err", err, "duration", diag.Duration)
		s.progress.finish(ProgressEvent{Stage: StageFailed})
		return err
	}
	s.logger.Info("codon database ready",
		"from_cache", fromCache, "bytes", diag.Bytes, "duration", diag.Duration)
	s.progress.finish(ProgressEvent{Stage: StageReady, Fraction: 1})
	return nil
}

// load returns the snapshot from the store, or downloads and persists it.
func (s *Session) load(ctx context.Context) (data []byte, fromCache bool, persistErr, err error) {
	data, ok, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, false, nil, err
	}
	if ok {
		s.logger.Debug("snapshot found in store", "key", s.key, "bytes", len(data))
		s.progress.publish(ProgressEvent{Stage: StageLookup, Fraction: 1})
		return data, true, nil, nil
	}

	s.progress.publish(ProgressEvent{Stage: StageDownloading})
	data, err = s.fetcher.Download(ctx, s.url, func(fraction float64) {
		s.progress.publish(ProgressEvent{Stage: StageDownloading, Fraction: fraction})
	})
	if err != nil {
		return nil, false, nil, err
	}

	if err := s.store.Put(ctx, s.key, data); err != nil {
		s.logger.Warn("failed to persist snapshot", "key", s.key, "err", err)
		persistErr = err
	}
	return data, false, persistErr, nil
}

// Query executes one statement against the snapshot.
//
// Before the session is Ready it fails with [ErrNotReady] without touching
// the engine. After a failed initialization it returns the retained
// initialization error. Query never changes the session state.
func (s *Session) Query(ctx context.Context, sql string, params Params) (*Result, error) {
	s.mu.RLock()
	state, err, eng, closed := s.state, s.err, s.engine, s.closed
	s.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrClosed
	case state == StateReady:
		return eng.Execute(ctx, sql, params)
	case state == StateFailed:
		return nil, err
	default:
		return nil, fmt.Errorf("%w: session is %s", ErrNotReady, state)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the consumer-facing view of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	state, err := s.state, s.err
	s.mu.RUnlock()
	return Status{
		State:    state,
		Loading:  !state.Terminal(),
		Error:    Message(err),
		Progress: s.progress.current().Fraction,
	}
}

// Subscribe returns a stream of progress events and a function that ends
// the subscription. The stream starts with the current event, skips
// intermediate values a slow reader misses, and is closed after the
// terminal event.
func (s *Session) Subscribe() (<-chan ProgressEvent, func()) {
	return s.progress.subscribe()
}

// Diagnostics returns details of the last initialization.
func (s *Session) Diagnostics() Diagnostics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diag
}

// Close releases the engine at process shutdown. Queries fail with
// [ErrClosed] afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.engine != nil {
		return s.engine.Close()
	}
	return nil
}
