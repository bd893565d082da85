package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/preroll/internal/prefetch"
)

// stubEngine serves fixed payloads keyed by URL, for exercising handlers
// against a real cache.
type stubEngine struct {
	mu       sync.Mutex
	payloads map[string][]byte
}

func newStubEngine() *stubEngine {
	return &stubEngine{payloads: make(map[string][]byte)}
}

func (e *stubEngine) serve(url string, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads[url] = payload
}

func (e *stubEngine) Open(ctx context.Context, url string, opts prefetch.Options, tok *prefetch.Token) (prefetch.Resource, error) {
	e.mu.Lock()
	payload, ok := e.payloads[url]
	e.mu.Unlock()
	if !ok {
		payload = []byte("default payload")
	}
	return &stubResource{
		data:  bytes.NewReader(payload),
		total: int64(len(payload)),
	}, nil
}

type stubResource struct {
	mu      sync.Mutex
	data    *bytes.Reader
	total   int64
	started bool
	eof     bool
	closed  bool
}

func (r *stubResource) Streams() []prefetch.StreamDescriptor {
	return []prefetch.StreamDescriptor{
		{Index: 0, Type: prefetch.StreamTypeVideo, Codec: "h264"},
	}
}

func (r *stubResource) Select(prefetch.StreamDescriptor) {}

func (r *stubResource) StartReadahead() {
	r.mu.Lock()
	r.started = true
	r.eof = true
	r.mu.Unlock()
}

func (r *stubResource) ReaderState() prefetch.ReaderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return prefetch.ReaderState{
		ForwardBytes: int64(r.data.Len()),
		TotalBytes:   r.total,
		EOFCached:    r.eof,
	}
}

func (r *stubResource) TotalSize() int64 { return r.total }

func (r *stubResource) Read(p []byte) (int, error) {
	return r.data.Read(p)
}

func (r *stubResource) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func newTestCache(engine prefetch.Engine) *prefetch.Cache {
	return prefetch.New(prefetch.Config{
		Engine:       engine,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval: 5 * time.Millisecond,
	})
}

func waitForStatus(cache *prefetch.Cache, url string, want prefetch.Status) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := cache.Info(url); err == nil && info.Status == want {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}
