package codondb

// State is the lifecycle state of a [Session].
type State uint8

// Session states. A session moves Uninitialized → Loading → Ready or
// Failed and never leaves Ready or Failed.
const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Status is the consumer-facing view of a session.
//
// Query is only safe to call when Loading is false and Error is empty.
type Status struct {
	State    State   `json:"-"`
	Loading  bool    `json:"loading"`
	Error    string  `json:"error,omitempty"`
	Progress float64 `json:"progress"`
}
