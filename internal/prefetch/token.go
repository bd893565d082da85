package prefetch

import (
	"sync"
	"time"
)

// Token is a shared, triggerable cancellation flag with a blocking
// wait-with-timeout primitive. One Token exists per cache entry; it is
// shared by reference with the entry's worker and, after a Take, travels
// with the transferred resource.
//
// Triggering is one-way and idempotent. Waiters are woken promptly via a
// closed channel rather than polling.
type Token struct {
	once sync.Once
	done chan struct{}
}

// NewToken creates an untriggered token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Trigger fires the token. Safe to call multiple times and from any
// goroutine; all current and future waiters observe the trigger.
func (t *Token) Trigger() {
	t.once.Do(func() { close(t.done) })
}

// Triggered reports whether the token has fired.
func (t *Token) Triggered() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the token fires or the timeout elapses, returning
// true if the token fired. A non-positive timeout checks without blocking.
func (t *Token) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return t.Triggered()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed when the token fires, for use in select
// statements and context bridging.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
