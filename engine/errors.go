package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInit is returned when a snapshot cannot be turned into an engine.
	ErrInit = errors.New("engine: invalid snapshot")

	// ErrQuery is returned for malformed statements and parameter mismatches.
	ErrQuery = errors.New("engine: query failed")
)

// ParamError reports placeholders and parameters that do not line up.
type ParamError struct {
	Missing    []string // placeholders in the statement with no bound value
	Unexpected []string // bound names that appear nowhere in the statement
	Invalid    []string // bound names without a ':', '@' or '$' prefix
	Positional bool     // the statement uses '?' placeholders
}

func (e *ParamError) Error() string {
	var parts []string
	if e.Positional {
		parts = append(parts, "positional placeholders are not supported")
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Unexpected, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "unprefixed "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("parameter mismatch: %s", strings.Join(parts, "; "))
}

// Is reports whether target is ErrQuery.
func (e *ParamError) Is(target error) bool { return target == ErrQuery }
