package api_test

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/codondb"
	"github.com/meigma/codondb/download"
	"github.com/meigma/codondb/internal/api"
	"github.com/meigma/codondb/internal/testutil"
	"github.com/meigma/codondb/usage"
)

func readySession(t *testing.T) *codondb.Session {
	t.Helper()
	st := testutil.NewMockStore()
	st.Seed(codondb.DefaultCacheKey, testutil.CodonSnapshot(t,
		testutil.CodonRow{OrgID: 16815, Counts: map[string]int64{"TTT": 12, "TTC": 4, "ATG": 9}},
	))
	s, err := codondb.New(codondb.WithStore(st), codondb.WithFetcher(&testutil.MockFetcher{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func do(t *testing.T, h nethttp.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *nethttp.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatus(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	rec := do(t, h, nethttp.MethodGet, "/status", "")
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	got := decode[api.StatusResponse](t, rec)
	assert.Equal(t, api.StatusResponse{State: "ready", Progress: 1}, got)
}

func TestQuery(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	rec := do(t, h, nethttp.MethodPost, "/query",
		`{"sql":"select TTT from codon_usage where org_id = :org","params":{":org":16815}}`)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"TTT"}, got.Columns)
	assert.Equal(t, [][]any{{float64(12)}}, got.Rows)
}

func TestQueryErrors(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"sql":`, nethttp.StatusBadRequest},
		{"unknown field", `{"sql":"select 1","extra":true}`, nethttp.StatusBadRequest},
		{"empty sql", `{"sql":""}`, nethttp.StatusBadRequest},
		{"missing param", `{"sql":"select :org"}`, nethttp.StatusBadRequest},
		{"bad sql", `{"sql":"selec 1"}`, nethttp.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, nethttp.MethodPost, "/query", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
		})
	}
}

func TestQueryNoResultSet(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	rec := do(t, h, nethttp.MethodPost, "/query", `{"sql":"PRAGMA query_only = 1"}`)
	assert.Equal(t, nethttp.StatusNoContent, rec.Code)
}

func TestNotReady(t *testing.T) {
	t.Parallel()

	fetcher := &testutil.MockFetcher{
		Data:    testutil.CodonSnapshot(t),
		Gate:    make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	s, err := codondb.New(codondb.WithStore(testutil.NewMockStore()), codondb.WithFetcher(fetcher))
	require.NoError(t, err)
	t.Cleanup(func() {
		close(fetcher.Gate)
		_ = s.Init(context.Background())
		_ = s.Close()
	})
	s.Start()
	<-fetcher.Started

	h := api.New(s, nil)
	rec := do(t, h, nethttp.MethodPost, "/query", `{"sql":"select 1"}`)
	assert.Equal(t, nethttp.StatusConflict, rec.Code)

	rec = do(t, h, nethttp.MethodGet, "/usage/16815", "")
	assert.Equal(t, nethttp.StatusConflict, rec.Code)

	got := decode[api.StatusResponse](t, do(t, h, nethttp.MethodGet, "/status", ""))
	assert.Equal(t, "loading", got.State)
	assert.True(t, got.Loading)
}

func TestFailedSession(t *testing.T) {
	t.Parallel()

	s, err := codondb.New(
		codondb.WithStore(testutil.NewMockStore()),
		codondb.WithFetcher(&testutil.MockFetcher{Err: &download.StatusError{StatusCode: 404, Status: "404 Not Found"}}),
	)
	require.NoError(t, err)
	require.Error(t, s.Init(context.Background()))

	h := api.New(s, nil)
	rec := do(t, h, nethttp.MethodPost, "/query", `{"sql":"select 1"}`)
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "codon database download failed (HTTP 404)", decode[api.ErrorResponse](t, rec).Error)

	got := decode[api.StatusResponse](t, do(t, h, nethttp.MethodGet, "/status", ""))
	assert.Equal(t, "failed", got.State)
	assert.False(t, got.Loading)
	assert.Equal(t, "codon database download failed (HTTP 404)", got.Error)
}

func TestUsage(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	rec := do(t, h, nethttp.MethodGet, "/usage/16815", "")
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	got := decode[api.UsageResponse](t, rec)
	assert.Equal(t, "16815", got.OrgID)
	assert.Len(t, got.Codons, 64)
	assert.Equal(t, int64(12), got.Codons["TTT"])
	assert.InDelta(t, 0.75, got.Frequencies["F"]["TTT"], 1e-9)
	assert.InDelta(t, 1.0, got.Frequencies["M"]["ATG"], 1e-9)

	rec = do(t, h, nethttp.MethodGet, "/usage/1", "")
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}

func TestOrganism(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	rec := do(t, h, nethttp.MethodGet, "/organisms/16815", "")
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	got := decode[usage.Organism](t, rec)
	assert.Equal(t, int64(16815), got.OrgID)
	assert.Equal(t, int64(17815), got.TaxID)
	assert.Equal(t, "refseq", got.Division)

	rec = do(t, h, nethttp.MethodGet, "/organisms/42", "")
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}

func TestSpecies(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	rec := do(t, h, nethttp.MethodGet, "/species", "")
	require.Equal(t, nethttp.StatusOK, rec.Code)

	got := decode[[]usage.Species](t, rec)
	assert.Equal(t, usage.KnownSpecies, got)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := api.New(readySession(t), nil)
	rec := do(t, h, nethttp.MethodGet, "/query", "")
	assert.Equal(t, nethttp.StatusMethodNotAllowed, rec.Code)
}
