// Package consumer turns repository calls into observable request state for
// UI-style callers: every request moves the resource through
// Idle -> Loading -> Ready | Error, and only the newest request may settle it.
package consumer

// Status is the phase of a resource.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Meta describes the page a list resource loaded. It is nil for unpaged loads.
type Meta struct {
	Total    int64
	Page     int
	PageSize int
	HasNext  bool
	HasPrev  bool
}

// State is a snapshot of a resource. Data keeps the last loaded value while a
// new request is loading and after it fails.
type State[V any] struct {
	Status Status
	Data   V
	// Err is the classified repository error of a failed request. Match it
	// with errors.Is against the repository sentinels.
	Err error
	// Message is the user-facing text of Err.
	Message string
	Meta    *Meta
}

// Loading reports whether a request is in flight.
func (s State[V]) Loading() bool { return s.Status == StatusLoading }
