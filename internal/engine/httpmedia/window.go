package httpmedia

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jmylchreest/preroll/internal/prefetch"
)

// ErrWindowClosed is returned by window operations after Close.
var ErrWindowClosed = errors.New("buffer window closed")

// window is the bounded forward buffer between the download goroutine and an
// eventual consumer. Writes block once the unconsumed span reaches the byte
// or duration target; reads drain the window and wake the writer. Buffered
// bytes are retained until consumed, so the window is the cache payload
// itself.
type window struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf      []byte
	written  int64
	consumed int64
	total    int64

	maxBytes int64
	maxSecs  float64

	// durWritten is the total media duration credited by the source, in
	// seconds. Zero when the source cannot attribute durations.
	durWritten float64

	eof    bool
	err    error
	closed bool
}

func newWindow(maxBytes int64, maxSecs float64) *window {
	w := &window{
		maxBytes: maxBytes,
		maxSecs:  maxSecs,
		total:    -1,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// forwardLocked reports the unconsumed byte span. Caller holds w.mu.
func (w *window) forwardLocked() int64 {
	return w.written - w.consumed
}

// bufferedSecsLocked estimates the unconsumed duration from the average
// bytes-per-second of everything written so far. Caller holds w.mu.
func (w *window) bufferedSecsLocked() float64 {
	if w.durWritten <= 0 || w.written == 0 {
		return 0
	}
	return w.durWritten * float64(w.forwardLocked()) / float64(w.written)
}

// atTargetLocked reports whether the window has hit its byte or duration
// limit. Caller holds w.mu.
func (w *window) atTargetLocked() bool {
	if w.forwardLocked() >= w.maxBytes {
		return true
	}
	return w.maxSecs > 0 && w.durWritten > 0 && w.bufferedSecsLocked() >= w.maxSecs
}

// Write appends p, blocking while the window is at its target. It returns
// ErrWindowClosed once the window is closed.
func (w *window) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.atTargetLocked() && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		return 0, ErrWindowClosed
	}

	w.buf = append(w.buf, p...)
	w.written += int64(len(p))
	w.cond.Broadcast()
	return len(p), nil
}

// AddDuration credits media duration for bytes already written.
func (w *window) AddDuration(secs float64) {
	w.mu.Lock()
	w.durWritten += secs
	w.mu.Unlock()
}

// Read drains buffered bytes, blocking until data arrives. It returns io.EOF
// once the source finished and the window is empty, or the source error once
// the buffered bytes are consumed.
func (w *window) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.buf) == 0 {
		if w.closed {
			return 0, ErrWindowClosed
		}
		if w.eof {
			return 0, io.EOF
		}
		if w.err != nil {
			return 0, w.err
		}
		w.cond.Wait()
	}

	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	w.consumed += int64(n)
	w.cond.Broadcast()
	return n, nil
}

// SetEOF marks the source exhausted. Buffered bytes remain readable.
func (w *window) SetEOF() {
	w.mu.Lock()
	w.eof = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Fail records a source error surfaced to readers after the buffer drains.
func (w *window) Fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.cond.Broadcast()
	w.mu.Unlock()
}

// SetTotal records the total source size in bytes, when known.
func (w *window) SetTotal(n int64) {
	w.mu.Lock()
	w.total = n
	w.mu.Unlock()
}

// Close releases all waiters. Idempotent.
func (w *window) Close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// State returns a point-in-time reader state snapshot. It never blocks
// beyond the window mutex.
func (w *window) State() prefetch.ReaderState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return prefetch.ReaderState{
		ForwardBytes:     w.forwardLocked(),
		TotalBytes:       w.written,
		EOFCached:        w.eof,
		BufferedDuration: time.Duration(w.bufferedSecsLocked() * float64(time.Second)),
	}
}

// Total returns the recorded source size, or -1 when unknown.
func (w *window) Total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}
