package prefetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/preroll/internal/urlutil"
)

// runWorker drives one session from open through buffering to idle. It is
// the only goroutine that mutates the session's status and resource while
// the entry is attached to the cache.
func (c *Cache) runWorker(s *session) {
	defer close(s.done)

	logger := c.logger.With(
		slog.String("session_id", s.id.String()),
		slog.String("url", urlutil.Obfuscate(s.key)),
	)

	// The open context is canceled when the token fires so cancellation
	// aborts the open-phase network I/O. It is released as soon as Open
	// returns: the resource's ongoing reads belong to the token, not to
	// this context.
	openCtx, cancelOpen := context.WithCancel(context.Background())
	openDone := make(chan struct{})
	go func() {
		select {
		case <-s.token.Done():
			cancelOpen()
		case <-openDone:
		}
	}()

	res, err := c.engine.Open(openCtx, s.key, s.opts, s.token)
	close(openDone)
	cancelOpen()

	if err != nil {
		if s.token.Triggered() {
			// Explicit cancellation mid-open: no error status, no
			// notification. The canceling caller reaps the entry.
			logger.Debug("open aborted by cancellation")
			return
		}
		logger.Warn("open failed", slog.String("error", err.Error()))
		c.transition(s, StatusError)
		c.notifyLocked(s)
		return
	}

	c.mu.Lock()
	s.resource = res
	c.mu.Unlock()

	// Prefetch every audio and video elementary stream from the current
	// position; subtitles and other types are not selected.
	for _, sd := range res.Streams() {
		if sd.Type == StreamTypeVideo || sd.Type == StreamTypeAudio {
			res.Select(sd)
		}
	}
	res.StartReadahead()

	c.transition(s, StatusReady)
	if !s.stopRequested() {
		c.notifyLocked(s)
	}
	logger.Debug("session ready", slog.Int("streams", len(res.Streams())))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	targetNotified := false
	for {
		if !targetNotified {
			state := res.ReaderState()
			if state.ForwardBytes >= s.opts.MaxBytes || state.EOFCached {
				c.transition(s, StatusCached)
				if !s.stopRequested() {
					c.notifyLocked(s)
				}
				targetNotified = true
				logger.Info("buffering target reached",
					slog.Int64("forward_bytes", state.ForwardBytes),
					slog.Bool("eof_cached", state.EOFCached),
				)
			}
		}

		select {
		case <-s.stop:
			return
		case <-s.token.Done():
			return
		case <-ticker.C:
		}
	}
}

// transition updates the session status under the table lock so Info
// readers never observe a torn snapshot.
func (c *Cache) transition(s *session, status Status) {
	c.mu.Lock()
	s.status = status
	c.mu.Unlock()
}

// notifyLocked computes a fresh snapshot into the session's private buffer
// and invokes the registered notifier, if any. The snapshot is filled under
// the table lock but the callback runs outside it, on this worker's
// goroutine. The callback pointer observed at invocation time is used even
// if the registration changes concurrently.
func (c *Cache) notifyLocked(s *session) {
	cb := c.notifier.Load()
	if cb == nil {
		return
	}

	c.mu.Lock()
	s.fillInfo(&s.snapshot)
	c.mu.Unlock()

	(*cb)(s.key, &s.snapshot)
}
