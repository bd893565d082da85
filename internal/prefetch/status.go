package prefetch

// Status describes the lifecycle position of a cache entry.
//
// Transitions are strictly ordered per entry:
//
//	None --admit--> Loading --open ok--> Ready --target reached--> Cached
//	Loading --open failure--> Error (terminal)
//
// Teardown (cancel, eviction, take) returns an entry to None, which is only
// observable as "not found".
type Status int

const (
	StatusNone Status = iota
	StatusLoading
	StatusReady
	StatusError
	StatusCached
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusCached:
		return "cached"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so Status renders as its
// name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
