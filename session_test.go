package codondb_test

import (
	"context"
	"database/sql"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/codondb"
	"github.com/meigma/codondb/download"
	"github.com/meigma/codondb/internal/testutil"
	"github.com/meigma/codondb/store/sqlite"
)

// recordingFetcher forwards to a real fetcher and records every progress
// value it reports.
type recordingFetcher struct {
	inner codondb.Fetcher

	mu     sync.Mutex
	values []float64
}

func (f *recordingFetcher) Download(ctx context.Context, url string, onProgress download.ProgressFunc) ([]byte, error) {
	return f.inner.Download(ctx, url, func(v float64) {
		f.mu.Lock()
		f.values = append(f.values, v)
		f.mu.Unlock()
		onProgress(v)
	})
}

func (f *recordingFetcher) progress() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.values...)
}

type snapshotServer struct {
	*httptest.Server
	requests atomic.Int64
}

// serveSnapshot serves data with a Content-Length, flushing it in parts
// separate writes.
func serveSnapshot(t *testing.T, data []byte, status, parts int) *snapshotServer {
	t.Helper()
	s := &snapshotServer{}
	s.Server = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		s.requests.Add(1)
		if status != nethttp.StatusOK {
			nethttp.Error(w, nethttp.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		flusher, _ := w.(nethttp.Flusher)
		for part := range slices.Chunk(data, partSize(len(data), parts)) {
			_, _ = w.Write(part)
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(20 * time.Millisecond)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func partSize(n, parts int) int {
	return max((n+parts-1)/parts, 1)
}

func newSession(t *testing.T, opts ...codondb.Option) *codondb.Session {
	t.Helper()
	s, err := codondb.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collect(ch <-chan codondb.ProgressEvent) <-chan []codondb.ProgressEvent {
	out := make(chan []codondb.ProgressEvent, 1)
	go func() {
		var events []codondb.ProgressEvent
		for ev := range ch {
			events = append(events, ev)
		}
		out <- events
	}()
	return out
}

func TestSessionColdStart(t *testing.T) {
	t.Parallel()

	data := testutil.CodonSnapshot(t)
	server := serveSnapshot(t, data, nethttp.StatusOK, 3)
	dl, err := download.New()
	require.NoError(t, err)
	fetcher := &recordingFetcher{inner: dl}
	st := testutil.NewMockStore()

	s := newSession(t,
		codondb.WithURL(server.URL),
		codondb.WithStore(st),
		codondb.WithFetcher(fetcher),
	)
	assert.Equal(t, codondb.StateUninitialized, s.State())

	events, cancel := s.Subscribe()
	defer cancel()
	collected := collect(events)

	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, codondb.StateReady, s.State())
	assert.Equal(t, int64(1), server.requests.Load())

	// Every delivered part is reported, so the part boundaries show up
	// exactly even though the default read size spans the whole body.
	part := partSize(len(data), 3)
	values := fetcher.progress()
	require.GreaterOrEqual(t, len(values), 3)
	assert.Contains(t, values, float64(part)/float64(len(data)))
	assert.Contains(t, values, float64(2*part)/float64(len(data)))
	assert.Equal(t, 1.0, values[len(values)-1])

	seen := <-collected
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Fraction, seen[i-1].Fraction, "progress must not decrease")
	}
	last := seen[len(seen)-1]
	assert.Equal(t, codondb.StageReady, last.Stage)
	assert.Equal(t, 1.0, last.Fraction)

	res, err := s.Query(context.Background(), "select 1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.Columns)
	assert.Equal(t, [][]any{{int64(1)}}, res.Rows)

	stored, ok := st.Raw(codondb.DefaultCacheKey)
	require.True(t, ok, "downloaded snapshot should be persisted")
	assert.Equal(t, data, stored, "persisted bytes must match the download")

	status := s.Status()
	assert.False(t, status.Loading)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1.0, status.Progress)

	diag := s.Diagnostics()
	assert.False(t, diag.FromCache)
	assert.NoError(t, diag.PersistErr)
	assert.Equal(t, len(data), diag.Bytes)
}

func TestSessionWarmStart(t *testing.T) {
	t.Parallel()

	st := testutil.NewMockStore()
	st.Seed(codondb.DefaultCacheKey, testutil.CodonSnapshot(t))
	fetcher := &testutil.MockFetcher{}

	s := newSession(t, codondb.WithStore(st), codondb.WithFetcher(fetcher))
	require.NoError(t, s.Init(context.Background()))

	assert.Equal(t, int64(0), fetcher.Calls.Load(), "warm start must not download")
	assert.Equal(t, int64(0), st.Puts.Load())
	assert.Equal(t, codondb.StateReady, s.State())
	assert.Equal(t, 1.0, s.Status().Progress)
	assert.True(t, s.Diagnostics().FromCache)

	require.NoError(t, s.Init(context.Background()), "repeated init is a no-op")
	assert.Equal(t, int64(0), fetcher.Calls.Load())
}

func TestSessionNetworkFailure(t *testing.T) {
	t.Parallel()

	server := serveSnapshot(t, nil, nethttp.StatusInternalServerError, 1)
	st := testutil.NewMockStore()
	s := newSession(t, codondb.WithURL(server.URL), codondb.WithStore(st))

	err := s.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, codondb.ErrNetwork)
	assert.Equal(t, codondb.StateFailed, s.State())

	status := s.Status()
	assert.False(t, status.Loading)
	assert.NotEmpty(t, status.Error)
	assert.Contains(t, status.Error, "500")

	_, qerr := s.Query(context.Background(), "select 1", nil)
	require.Error(t, qerr)
	assert.ErrorIs(t, qerr, codondb.ErrNetwork)
	var statusErr *codondb.StatusError
	require.True(t, errors.As(qerr, &statusErr))
	assert.Equal(t, nethttp.StatusInternalServerError, statusErr.StatusCode)

	assert.Equal(t, int64(0), st.Puts.Load(), "failed downloads are never persisted")
	assert.Equal(t, err, s.Diagnostics().Err)

	require.Error(t, s.Init(context.Background()), "failed sessions stay failed")
	assert.Equal(t, int64(1), server.requests.Load(), "no automatic retry")
}

func TestSessionParameterizedQuery(t *testing.T) {
	t.Parallel()

	st := testutil.NewMockStore()
	st.Seed(codondb.DefaultCacheKey, testutil.CodonSnapshot(t,
		testutil.CodonRow{OrgID: 16815, Counts: map[string]int64{"TTT": 12, "TTC": 8}},
	))
	s := newSession(t, codondb.WithStore(st), codondb.WithFetcher(&testutil.MockFetcher{}))
	require.NoError(t, s.Init(context.Background()))

	res, err := s.Query(context.Background(),
		"select TTT from codon_usage where org_id = :org",
		codondb.Params{":org": "16815"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"TTT"}, res.Columns)
	assert.Equal(t, [][]any{{int64(12)}}, res.Rows)

	_, err = s.Query(context.Background(), "select TTT from codon_usage where org_id = :org", nil)
	assert.ErrorIs(t, err, codondb.ErrQuery)
	assert.Equal(t, codondb.StateReady, s.State(), "query errors do not affect state")
}

func TestSessionSingleFlight(t *testing.T) {
	t.Parallel()

	fetcher := &testutil.MockFetcher{
		Data:      testutil.CodonSnapshot(t),
		ChunkSize: 1024,
		Gate:      make(chan struct{}),
		Started:   make(chan struct{}, 1),
	}
	st := testutil.NewMockStore()
	s := newSession(t, codondb.WithStore(st), codondb.WithFetcher(fetcher))

	const callers = 8
	errs := make(chan error, callers)
	go func() { errs <- s.Init(context.Background()) }()
	<-fetcher.Started

	for range callers - 1 {
		go func() { errs <- s.Init(context.Background()) }()
	}
	// Give late callers time to join the in-flight initialization.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.Gate)

	for range callers {
		assert.NoError(t, <-errs)
	}
	assert.Equal(t, int64(1), fetcher.Calls.Load(), "exactly one download")
	assert.Equal(t, int64(1), st.Gets.Load(), "exactly one store lookup")
	assert.Equal(t, codondb.StateReady, s.State())
}

func TestSessionSingleFlightFailure(t *testing.T) {
	t.Parallel()

	fetcher := &testutil.MockFetcher{
		Err:     download.ErrNetwork,
		Gate:    make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	s := newSession(t, codondb.WithStore(testutil.NewMockStore()), codondb.WithFetcher(fetcher))

	errs := make(chan error, 2)
	go func() { errs <- s.Init(context.Background()) }()
	<-fetcher.Started
	go func() { errs <- s.Init(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	close(fetcher.Gate)

	first, second := <-errs, <-errs
	assert.ErrorIs(t, first, codondb.ErrNetwork)
	assert.ErrorIs(t, second, codondb.ErrNetwork)
	assert.Equal(t, int64(1), fetcher.Calls.Load())
	assert.Equal(t, codondb.StateFailed, s.State())
}

func TestSessionNotReady(t *testing.T) {
	t.Parallel()

	fetcher := &testutil.MockFetcher{
		Data:    testutil.CodonSnapshot(t),
		Gate:    make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	s := newSession(t, codondb.WithStore(testutil.NewMockStore()), codondb.WithFetcher(fetcher))

	_, err := s.Query(context.Background(), "select 1", nil)
	assert.ErrorIs(t, err, codondb.ErrNotReady)
	assert.True(t, s.Status().Loading, "uninitialized sessions are not safe to query")

	s.Start()
	<-fetcher.Started
	assert.Equal(t, codondb.StateLoading, s.State())

	_, err = s.Query(context.Background(), "select 1", nil)
	assert.ErrorIs(t, err, codondb.ErrNotReady)
	assert.Equal(t, codondb.StateLoading, s.State(), "query does not change state")

	close(fetcher.Gate)
	require.NoError(t, s.Init(context.Background()))
	_, err = s.Query(context.Background(), "select 1", nil)
	assert.NoError(t, err)
}

func TestSessionInitCallerCancel(t *testing.T) {
	t.Parallel()

	fetcher := &testutil.MockFetcher{
		Data:    testutil.CodonSnapshot(t),
		Gate:    make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	s := newSession(t, codondb.WithStore(testutil.NewMockStore()), codondb.WithFetcher(fetcher))

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.Init(ctx) }()
	<-fetcher.Started
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(fetcher.Gate)
	require.NoError(t, s.Init(context.Background()), "initialization keeps running for other callers")
	assert.Equal(t, int64(1), fetcher.Calls.Load())
}

func TestSessionPersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	st := testutil.NewMockStore()
	st.PutErr = errors.New("quota exceeded")
	fetcher := &testutil.MockFetcher{Data: testutil.CodonSnapshot(t)}
	s := newSession(t, codondb.WithStore(st), codondb.WithFetcher(fetcher))

	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, codondb.StateReady, s.State())

	diag := s.Diagnostics()
	require.Error(t, diag.PersistErr)
	assert.ErrorIs(t, diag.PersistErr, codondb.ErrStorage)
	assert.Empty(t, s.Status().Error)
}

func TestSessionStoreFailure(t *testing.T) {
	t.Parallel()

	st := testutil.NewMockStore()
	st.OpenErr = errors.New("permission denied")
	fetcher := &testutil.MockFetcher{Data: testutil.CodonSnapshot(t)}
	s := newSession(t, codondb.WithStore(st), codondb.WithFetcher(fetcher))

	err := s.Init(context.Background())
	assert.ErrorIs(t, err, codondb.ErrStorage)
	assert.Equal(t, codondb.StateFailed, s.State())
	assert.Equal(t, int64(0), fetcher.Calls.Load())
	assert.Equal(t, "local codon database cache is unavailable", s.Status().Error)
}

func TestSessionRedownloadsCorruptSQLiteCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	data := testutil.CodonSnapshot(t)
	st, err := sqlite.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Put(ctx, codondb.DefaultCacheKey, data))

	raw, err := sql.Open("sqlite", st.Path())
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE blobs SET data = x'00'`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	fetcher := &testutil.MockFetcher{Data: data}
	s := newSession(t, codondb.WithStore(st), codondb.WithFetcher(fetcher))
	require.NoError(t, s.Init(ctx))
	assert.Equal(t, codondb.StateReady, s.State())
	assert.Equal(t, int64(1), fetcher.Calls.Load(), "a corrupt entry is a miss")

	stored, ok, err := st.Get(ctx, codondb.DefaultCacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, stored, "the fresh download replaces the corrupt entry")
}

func TestSessionInvalidSnapshot(t *testing.T) {
	t.Parallel()

	fetcher := &testutil.MockFetcher{Data: []byte("<html>503 Service Unavailable</html>")}
	s := newSession(t, codondb.WithStore(testutil.NewMockStore()), codondb.WithFetcher(fetcher))

	err := s.Init(context.Background())
	assert.ErrorIs(t, err, codondb.ErrEngineInit)
	assert.Equal(t, codondb.StateFailed, s.State())

	_, qerr := s.Query(context.Background(), "select 1", nil)
	assert.ErrorIs(t, qerr, codondb.ErrEngineInit)
}

func TestSessionLateSubscriber(t *testing.T) {
	t.Parallel()

	st := testutil.NewMockStore()
	st.Seed(codondb.DefaultCacheKey, testutil.CodonSnapshot(t))
	s := newSession(t, codondb.WithStore(st), codondb.WithFetcher(&testutil.MockFetcher{}))
	require.NoError(t, s.Init(context.Background()))

	events, cancel := s.Subscribe()
	defer cancel()

	ev, ok := <-events
	require.True(t, ok)
	assert.Equal(t, codondb.ProgressEvent{Stage: codondb.StageReady, Fraction: 1}, ev)
	_, ok = <-events
	assert.False(t, ok, "stream is closed after the terminal event")
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	st := testutil.NewMockStore()
	st.Seed(codondb.DefaultCacheKey, testutil.CodonSnapshot(t))
	s, err := codondb.New(codondb.WithStore(st), codondb.WithFetcher(&testutil.MockFetcher{}))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Query(context.Background(), "select 1", nil)
	assert.ErrorIs(t, err, codondb.ErrClosed)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := codondb.New(codondb.WithURL(""))
	assert.Error(t, err)
	_, err = codondb.New(codondb.WithCacheKey(""))
	assert.Error(t, err)
	_, err = codondb.New(codondb.WithCacheDir(""))
	assert.Error(t, err)
}
