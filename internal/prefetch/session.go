package prefetch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures one prefetch entry. Zero fields are resolved to the
// cache defaults at admission time and are immutable afterwards.
type Options struct {
	// MaxBytes is the buffering target; reaching it flips the entry to
	// StatusCached.
	MaxBytes int64 `json:"max_bytes"`
	// ReadaheadSecs is the buffering duration goal passed to the engine.
	ReadaheadSecs float64 `json:"readahead_secs"`
}

// Info is a point-in-time snapshot of one entry's state, as returned by
// Cache.Info and passed to the registered notifier.
type Info struct {
	Status       Status  `json:"status"`
	ForwardBytes int64   `json:"forward_bytes"`
	TotalBytes   int64   `json:"total_bytes"`
	FileSize     int64   `json:"file_size"` // -1 when unknown
	BufferedSecs float64 `json:"buffered_secs"`
	FullyCached  bool    `json:"fully_cached"`
}

// session is one live cache entry. The key, id, opts, and createdAt fields
// are immutable. status and resource are guarded by the cache mutex. The
// snapshot buffer is written only by the session's own worker and read by
// the notifier callback, so it needs no lock of its own.
type session struct {
	key       string
	id        uuid.UUID
	opts      Options
	createdAt time.Time

	status   Status
	resource Resource
	token    *Token

	stopOnce sync.Once
	stop     chan struct{} // cooperative stop for Take; never touches the token
	done     chan struct{} // closed when the worker exits

	snapshot Info
}

func newSession(url string, opts Options) *session {
	return &session{
		key:       url,
		id:        uuid.New(),
		opts:      opts,
		createdAt: time.Now(),
		status:    StatusLoading,
		token:     NewToken(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// requestStop asks the worker to exit without triggering cancellation.
// Idempotent; used by Take so in-flight network reads survive the handoff.
func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *session) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// fillInfo writes the session's current state into info. Callers must hold
// the cache mutex; ReaderState is required to be non-blocking.
func (s *session) fillInfo(info *Info) {
	*info = Info{Status: s.status, FileSize: -1}

	if s.resource == nil {
		return
	}

	state := s.resource.ReaderState()
	info.ForwardBytes = state.ForwardBytes
	info.TotalBytes = state.TotalBytes
	info.FullyCached = state.EOFCached
	info.BufferedSecs = state.BufferedDuration.Seconds()
	if size := s.resource.TotalSize(); size >= 0 {
		info.FileSize = size
	}
}
