// Package api exposes a session over HTTP as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"

	"github.com/meigma/codondb"
	"github.com/meigma/codondb/usage"
)

// maxBodyBytes bounds POST /query request bodies.
const maxBodyBytes = 1 << 20

// Session is the subset of [codondb.Session] the handlers use.
type Session interface {
	Status() codondb.Status
	Query(ctx context.Context, sql string, params codondb.Params) (*codondb.Result, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State    string  `json:"state"`
	Loading  bool    `json:"loading"`
	Error    string  `json:"error,omitempty"`
	Progress float64 `json:"progress"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	SQL    string         `json:"sql"`
	Params map[string]any `json:"params,omitempty"`
}

// UsageResponse is the body of GET /usage/{org}.
type UsageResponse struct {
	OrgID       string                        `json:"org_id"`
	Codons      usage.CodonUsage              `json:"codons"`
	Frequencies map[string]map[string]float64 `json:"frequencies"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the codondb HTTP API.
type Handler struct {
	session Session
	logger  *slog.Logger
	mux     *nethttp.ServeMux
}

// New returns a handler for session. A nil logger discards output.
func New(session Session, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{session: session, logger: logger, mux: nethttp.NewServeMux()}
	h.mux.HandleFunc("GET /status", h.status)
	h.mux.HandleFunc("POST /query", h.query)
	h.mux.HandleFunc("GET /usage/{org}", h.usage)
	h.mux.HandleFunc("GET /organisms/{org}", h.organism)
	h.mux.HandleFunc("GET /species", h.species)
	return h
}

// ServeHTTP implements [nethttp.Handler].
func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) status(w nethttp.ResponseWriter, _ *nethttp.Request) {
	st := h.session.Status()
	writeJSON(w, nethttp.StatusOK, StatusResponse{
		State:    st.State.String(),
		Loading:  st.Loading,
		Error:    st.Error,
		Progress: st.Progress,
	})
}

func (h *Handler) query(w nethttp.ResponseWriter, r *nethttp.Request) {
	var req QueryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, nethttp.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.SQL == "" {
		writeJSON(w, nethttp.StatusBadRequest, ErrorResponse{Error: "sql is required"})
		return
	}

	params := make(codondb.Params, len(req.Params))
	for k, v := range req.Params {
		params[k] = normalize(v)
	}
	res, err := h.session.Query(r.Context(), req.SQL, params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res == nil {
		w.WriteHeader(nethttp.StatusNoContent)
		return
	}
	writeJSON(w, nethttp.StatusOK, res)
}

func (h *Handler) usage(w nethttp.ResponseWriter, r *nethttp.Request) {
	org := r.PathValue("org")
	u, err := usage.ForOrganism(r.Context(), h.session, org)
	if err != nil {
		h.writeError(w, err)
		return
	}
	freqs := make(map[string]map[string]float64)
	for aa, f := range u.Frequencies() {
		freqs[string(aa)] = f
	}
	writeJSON(w, nethttp.StatusOK, UsageResponse{OrgID: org, Codons: u, Frequencies: freqs})
}

func (h *Handler) organism(w nethttp.ResponseWriter, r *nethttp.Request) {
	o, err := usage.LookupOrganism(r.Context(), h.session, r.PathValue("org"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, o)
}

func (h *Handler) species(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, usage.KnownSpecies)
}

// writeError maps session and query errors to HTTP statuses. Initialization
// failures are reported with their sanitized message only.
func (h *Handler) writeError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, codondb.ErrNotReady):
		writeJSON(w, nethttp.StatusConflict, ErrorResponse{Error: "codon database is still loading"})
	case errors.Is(err, usage.ErrOrganismNotFound):
		writeJSON(w, nethttp.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, codondb.ErrQuery):
		writeJSON(w, nethttp.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, codondb.ErrClosed):
		writeJSON(w, nethttp.StatusServiceUnavailable, ErrorResponse{Error: "codon database is shutting down"})
	case errors.Is(err, codondb.ErrNetwork),
		errors.Is(err, codondb.ErrStorage),
		errors.Is(err, codondb.ErrEngineInit):
		writeJSON(w, nethttp.StatusServiceUnavailable, ErrorResponse{Error: codondb.Message(err)})
	default:
		h.logger.Error("request failed", "err", err)
		writeJSON(w, nethttp.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// normalize turns JSON numbers into int64 where they are integral so that
// they compare as integers in SQL.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
