package httpmedia

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/jmylchreest/preroll/internal/prefetch"
	"github.com/jmylchreest/preroll/internal/urlutil"
)

const readChunkSize = 64 * 1024

// resource is the engine's prefetch.Resource implementation: a download
// goroutine feeding a bounded window from an upstream source. It also
// implements io.Reader so a taker can stream the buffered bytes straight
// out.
type resource struct {
	logger  *slog.Logger
	url     string
	kind    sourceKind
	streams []prefetch.StreamDescriptor
	win     *window
	src     io.ReadCloser
	tok     *prefetch.Token

	selMu    sync.Mutex
	selected []prefetch.StreamDescriptor

	startOnce sync.Once
	closeOnce sync.Once
	watchDone chan struct{}
}

func newResource(logger *slog.Logger, url string, kind sourceKind, streams []prefetch.StreamDescriptor, win *window, src io.ReadCloser, tok *prefetch.Token) *resource {
	return &resource{
		logger: logger.With(
			slog.String("component", "httpmedia"),
			slog.String("url", urlutil.Obfuscate(url)),
		),
		url:       url,
		kind:      kind,
		streams:   streams,
		win:       win,
		src:       src,
		tok:       tok,
		watchDone: make(chan struct{}),
	}
}

func (r *resource) Streams() []prefetch.StreamDescriptor {
	return r.streams
}

// Select records the caller's interest in a stream. Buffering happens at the
// container level, so selection does not filter the byte stream; it is kept
// for introspection and handoff.
func (r *resource) Select(sd prefetch.StreamDescriptor) {
	r.selMu.Lock()
	r.selected = append(r.selected, sd)
	r.selMu.Unlock()
}

// Selected returns the streams marked via Select.
func (r *resource) Selected() []prefetch.StreamDescriptor {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	out := make([]prefetch.StreamDescriptor, len(r.selected))
	copy(out, r.selected)
	return out
}

// StartReadahead launches the download goroutine. Subsequent calls are
// no-ops.
func (r *resource) StartReadahead() {
	r.startOnce.Do(func() {
		// Cancellation must unblock a download goroutine stuck in a
		// network read or a full-window write.
		go func() {
			select {
			case <-r.tok.Done():
				r.src.Close()
				r.win.Close()
			case <-r.watchDone:
			}
		}()
		go r.readLoop()
	})
}

func (r *resource) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		if r.tok.Triggered() {
			return
		}

		n, err := r.src.Read(buf)
		if n > 0 {
			if _, werr := r.win.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				r.win.SetEOF()
				r.logger.Debug("source fully buffered")
			case r.tok.Triggered():
				// Teardown race, not a source failure.
			default:
				r.win.Fail(err)
				r.logger.Warn("readahead aborted",
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// Read drains buffered bytes for a consumer that took ownership.
func (r *resource) Read(p []byte) (int, error) {
	return r.win.Read(p)
}

// ReaderState reports the window's buffering progress. Non-blocking.
func (r *resource) ReaderState() prefetch.ReaderState {
	return r.win.State()
}

// TotalSize returns the upstream payload size, or -1 when unknown.
func (r *resource) TotalSize() int64 {
	return r.win.Total()
}

// Close tears down the source and the window. Idempotent, and safe whether
// or not the cancellation token fired.
func (r *resource) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.watchDone)
		err = r.src.Close()
		r.win.Close()
	})
	return err
}

var _ prefetch.Resource = (*resource)(nil)
var _ io.Reader = (*resource)(nil)
