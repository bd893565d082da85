package prefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	mu               sync.Mutex
	streams          []StreamDescriptor
	selected         []StreamDescriptor
	state            ReaderState
	total            int64
	readaheadStarted bool
	closed           bool
}

func newFakeResource(total int64) *fakeResource {
	return &fakeResource{
		streams: []StreamDescriptor{
			{Index: 0, Type: StreamTypeVideo, Codec: "h264"},
			{Index: 1, Type: StreamTypeAudio, Codec: "aac"},
		},
		total: total,
	}
}

func (r *fakeResource) Streams() []StreamDescriptor {
	return r.streams
}

func (r *fakeResource) Select(sd StreamDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = append(r.selected, sd)
}

func (r *fakeResource) StartReadahead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readaheadStarted = true
}

func (r *fakeResource) ReaderState() ReaderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeResource) TotalSize() int64 {
	return r.total
}

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeResource) setForward(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.ForwardBytes = n
	r.state.TotalBytes = n
}

func (r *fakeResource) setEOF() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.EOFCached = true
}

func (r *fakeResource) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeEngine struct {
	mu        sync.Mutex
	openErr   map[string]error
	blockOpen chan struct{}
	total     int64
	resources map[string]*fakeResource
	opens     map[string]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		openErr:   make(map[string]error),
		total:     100 << 20,
		resources: make(map[string]*fakeResource),
		opens:     make(map[string]int),
	}
}

func (e *fakeEngine) Open(ctx context.Context, url string, opts Options, tok *Token) (Resource, error) {
	e.mu.Lock()
	e.opens[url]++
	openErr := e.openErr[url]
	block := e.blockOpen
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	res := newFakeResource(e.total)
	e.mu.Lock()
	e.resources[url] = res
	e.mu.Unlock()
	return res, nil
}

func (e *fakeEngine) resource(url string) *fakeResource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resources[url]
}

func (e *fakeEngine) openCount(url string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens[url]
}

type event struct {
	url  string
	info Info
}

type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) notify(url string, info *Info) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{url: url, info: *info})
}

func (l *eventLog) snapshot() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event, len(l.events))
	copy(out, l.events)
	return out
}

func newTestCache(engine Engine) *Cache {
	return New(Config{
		Engine:       engine,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval: 5 * time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func (c *Cache) statusOf(url string) Status {
	info, err := c.Info(url)
	if err != nil {
		return StatusNone
	}
	return info.Status
}

func TestStartInvalidURL(t *testing.T) {
	c := newTestCache(newFakeEngine())
	defer c.ClearAll()

	assert.ErrorIs(t, c.Start("", Options{}), ErrInvalidURL)
	assert.ErrorIs(t, c.Start("   ", Options{}), ErrInvalidURL)
}

func TestStartReachesCachedOnByteTarget(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{MaxBytes: 1 << 20}))

	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	res := engine.resource(url)
	require.NotNil(t, res)
	res.setForward(1 << 20)

	waitFor(t, func() bool { return c.statusOf(url) == StatusCached })

	info, err := c.Info(url)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), info.ForwardBytes)
	assert.Equal(t, int64(100<<20), info.FileSize)
	assert.False(t, info.FullyCached)
}

func TestStartReachesCachedOnEOF(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	url := "http://example.com/short.ts"
	require.NoError(t, c.Start(url, Options{MaxBytes: 1 << 20}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	res := engine.resource(url)
	res.setForward(4096)
	res.setEOF()

	waitFor(t, func() bool { return c.statusOf(url) == StatusCached })

	info, err := c.Info(url)
	require.NoError(t, err)
	assert.True(t, info.FullyCached)
}

func TestStartIdempotent(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	// Same URL again, even with different options, must not restart.
	require.NoError(t, c.Start(url, Options{MaxBytes: 1}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, engine.openCount(url))
	assert.Equal(t, 1, c.Len())
}

func TestEvictOldestWhenFull(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	urls := make([]string, MaxEntries+1)
	for i := 0; i < MaxEntries; i++ {
		urls[i] = fmt.Sprintf("http://example.com/%d.ts", i)
		require.NoError(t, c.Start(urls[i], Options{}))
		waitFor(t, func() bool { return c.statusOf(urls[i]) == StatusReady })
	}
	require.Equal(t, MaxEntries, c.Len())

	urls[MaxEntries] = "http://example.com/extra.ts"
	require.NoError(t, c.Start(urls[MaxEntries], Options{}))

	// The first (oldest) entry is gone and its resource released.
	_, err := c.Info(urls[0])
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, engine.resource(urls[0]).isClosed())
	assert.Equal(t, MaxEntries, c.Len())

	waitFor(t, func() bool { return c.statusOf(urls[MaxEntries]) == StatusReady })
}

func TestTakeTransfersOwnership(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{MaxBytes: 1 << 20}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	fake := engine.resource(url)
	fake.setForward(1 << 20)
	waitFor(t, func() bool { return c.statusOf(url) == StatusCached })

	res, err := c.Take(url)
	require.NoError(t, err)
	require.NotNil(t, res)

	// The buffered resource survives the handoff untouched.
	assert.False(t, fake.isClosed())
	assert.Equal(t, int64(1<<20), res.ReaderState().ForwardBytes)

	_, err = c.Info(url)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Take(url)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, res.Close())
}

func TestTakeRejectsErrorEntries(t *testing.T) {
	engine := newFakeEngine()
	engine.openErr["http://example.com/bad.ts"] = errors.New("upstream 404")
	c := newTestCache(engine)
	defer c.ClearAll()

	url := "http://example.com/bad.ts"
	require.NoError(t, c.Start(url, Options{}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusError })

	_, err := c.Take(url)
	assert.ErrorIs(t, err, ErrNotFound)

	// The errored entry stays visible until canceled.
	info, err := c.Info(url)
	require.NoError(t, err)
	assert.Equal(t, StatusError, info.Status)

	require.NoError(t, c.Cancel(url))
	_, err = c.Info(url)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelReleasesEntry(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	require.NoError(t, c.Cancel(url))

	assert.True(t, engine.resource(url).isClosed())
	_, err := c.Info(url)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len())

	assert.ErrorIs(t, c.Cancel(url), ErrNotFound)
}

func TestCancelDuringOpen(t *testing.T) {
	engine := newFakeEngine()
	engine.blockOpen = make(chan struct{})
	c := newTestCache(engine)
	defer c.ClearAll()

	events := &eventLog{}
	c.SetNotifier(events.notify)

	url := "http://example.com/slow.ts"
	require.NoError(t, c.Start(url, Options{}))
	waitFor(t, func() bool { return engine.openCount(url) == 1 })

	require.NoError(t, c.Cancel(url))

	_, err := c.Info(url)
	assert.ErrorIs(t, err, ErrNotFound)
	// Aborted opens produce no error notification.
	assert.Empty(t, events.snapshot())
}

func TestOpenFailureNotifies(t *testing.T) {
	engine := newFakeEngine()
	engine.openErr["http://example.com/bad.ts"] = errors.New("connection refused")
	c := newTestCache(engine)
	defer c.ClearAll()

	events := &eventLog{}
	c.SetNotifier(events.notify)

	url := "http://example.com/bad.ts"
	require.NoError(t, c.Start(url, Options{}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusError })

	waitFor(t, func() bool { return len(events.snapshot()) == 1 })
	ev := events.snapshot()[0]
	assert.Equal(t, url, ev.url)
	assert.Equal(t, StatusError, ev.info.Status)
}

func TestNotifierSequence(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	events := &eventLog{}
	c.SetNotifier(events.notify)

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{MaxBytes: 1 << 20}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	engine.resource(url).setForward(1 << 20)
	waitFor(t, func() bool { return len(events.snapshot()) >= 2 })

	evs := events.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, StatusReady, evs[0].info.Status)
	assert.Equal(t, StatusCached, evs[1].info.Status)
	assert.Equal(t, int64(1<<20), evs[1].info.ForwardBytes)

	// The target event fires exactly once even as polling continues.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, events.snapshot(), 2)
}

func TestNotifierCleared(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	events := &eventLog{}
	c.SetNotifier(events.notify)
	c.SetNotifier(nil)

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, events.snapshot())
}

func TestTakeDoesNotNotify(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	events := &eventLog{}
	c.SetNotifier(events.notify)

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{MaxBytes: 1 << 20}))
	waitFor(t, func() bool { return len(events.snapshot()) == 1 })

	res, err := c.Take(url)
	require.NoError(t, err)
	defer res.Close()

	// A target reached after the handoff request must not be reported.
	engine.resource(url).setForward(1 << 20)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, events.snapshot(), 1)
}

func TestClearAll(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)

	urls := []string{
		"http://example.com/a.ts",
		"http://example.com/b.ts",
		"http://example.com/c.ts",
	}
	for _, u := range urls {
		require.NoError(t, c.Start(u, Options{}))
	}
	for _, u := range urls {
		waitFor(t, func() bool { return c.statusOf(u) == StatusReady })
	}

	c.ClearAll()

	assert.Equal(t, 0, c.Len())
	for _, u := range urls {
		assert.True(t, engine.resource(u).isClosed())
		_, err := c.Info(u)
		assert.ErrorIs(t, err, ErrNotFound)
	}

	// Safe on an empty cache.
	c.ClearAll()
}

func TestInfoNotFound(t *testing.T) {
	c := newTestCache(newFakeEngine())

	info, err := c.Info("http://example.com/none.ts")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StatusNone, info.Status)
	assert.Equal(t, int64(-1), info.FileSize)
}

func TestEntries(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	require.NoError(t, c.Start("http://example.com/a.ts", Options{}))
	require.NoError(t, c.Start("http://example.com/b.ts", Options{}))
	waitFor(t, func() bool { return c.statusOf("http://example.com/b.ts") == StatusReady })

	entries := c.Entries()
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "http://example.com/a.ts")
	assert.Contains(t, entries, "http://example.com/b.ts")
}

func TestStreamSelection(t *testing.T) {
	engine := newFakeEngine()
	c := newTestCache(engine)
	defer c.ClearAll()

	url := "http://example.com/a.ts"
	require.NoError(t, c.Start(url, Options{}))
	waitFor(t, func() bool { return c.statusOf(url) == StatusReady })

	res := engine.resource(url)
	res.mu.Lock()
	defer res.mu.Unlock()
	assert.True(t, res.readaheadStarted)
	assert.Len(t, res.selected, 2)
}
