package codondb

import (
	"errors"
	"fmt"

	"github.com/meigma/codondb/download"
	"github.com/meigma/codondb/engine"
	"github.com/meigma/codondb/store"
)

// ErrNotReady is returned by Query before the session reaches Ready.
var ErrNotReady = errors.New("codondb: session not ready")

// Errors re-exported from the component packages.
var (
	// ErrNetwork is returned when the snapshot download fails.
	ErrNetwork = download.ErrNetwork

	// ErrStorage is returned when the persistent store fails.
	ErrStorage = store.ErrStorage

	// ErrEngineInit is returned when the snapshot is not a valid database.
	ErrEngineInit = engine.ErrInit

	// ErrQuery is returned for malformed statements and parameter mismatches.
	ErrQuery = engine.ErrQuery
)

// Re-exported error types.
type (
	// StatusError carries the HTTP status of a failed download.
	StatusError = download.StatusError

	// ParamError reports placeholders and parameters that do not line up.
	ParamError = engine.ParamError
)

// Message returns a short, user-safe description of an initialization
// failure. Details stay in the error itself for logs.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var statusErr *download.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("codon database download failed (HTTP %d)", statusErr.StatusCode)
	case errors.Is(err, ErrNetwork):
		return "codon database download failed"
	case errors.Is(err, ErrStorage):
		return "local codon database cache is unavailable"
	case errors.Is(err, ErrEngineInit):
		return "codon database snapshot is invalid"
	default:
		return "codon database failed to load"
	}
}
