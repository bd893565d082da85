package prefetch

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/preroll/internal/urlutil"
)

var (
	// ErrInvalidURL is returned by Start for an empty or blank URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNotFound is returned when no cache entry exists for a URL.
	ErrNotFound = errors.New("prefetch entry not found")
)

const (
	// MaxEntries bounds the cache table; starting a fifth URL evicts the
	// oldest entry.
	MaxEntries = 4

	// DefaultMaxBytes is the forward-buffer target applied when a request
	// does not set one. 10 MiB.
	DefaultMaxBytes int64 = 10 << 20

	// DefaultReadaheadSecs is the duration-based readahead limit applied
	// when a request does not set one.
	DefaultReadaheadSecs = 10.0

	// DefaultPollInterval is how often workers sample reader state while
	// waiting for the buffering target.
	DefaultPollInterval = 500 * time.Millisecond
)

// Notifier receives asynchronous status events for a cache entry. It runs on
// the entry's worker goroutine and must not call back into the Cache.
type Notifier func(url string, info *Info)

// Config configures a Cache. Zero fields take package defaults.
type Config struct {
	Engine               Engine
	Logger               *slog.Logger
	PollInterval         time.Duration
	DefaultMaxBytes      int64
	DefaultReadaheadSecs float64
}

// Cache is a bounded table of prefetch sessions keyed by URL. All
// bookkeeping happens under a single mutex; waiting for workers and tearing
// down resources always happens outside it.
type Cache struct {
	engine       Engine
	logger       *slog.Logger
	pollInterval time.Duration
	defaultOpts  Options

	mu    sync.Mutex
	slots [MaxEntries]*session

	notifier atomic.Pointer[Notifier]
}

// New creates a Cache backed by the given engine.
func New(cfg Config) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DefaultMaxBytes <= 0 {
		cfg.DefaultMaxBytes = DefaultMaxBytes
	}
	if cfg.DefaultReadaheadSecs <= 0 {
		cfg.DefaultReadaheadSecs = DefaultReadaheadSecs
	}
	return &Cache{
		engine:       cfg.Engine,
		logger:       cfg.Logger.With(slog.String("component", "prefetch")),
		pollInterval: cfg.PollInterval,
		defaultOpts: Options{
			MaxBytes:      cfg.DefaultMaxBytes,
			ReadaheadSecs: cfg.DefaultReadaheadSecs,
		},
	}
}

// SetNotifier registers the single global notification callback. Passing nil
// clears it. Sessions already running pick up the change on their next
// status transition.
func (c *Cache) SetNotifier(fn Notifier) {
	if fn == nil {
		c.notifier.Store(nil)
		return
	}
	c.notifier.Store(&fn)
}

// Start begins prefetching a URL. If the URL is already present the call is
// a no-op regardless of entry state. When the table is full the oldest entry
// is torn down synchronously before the new one is admitted.
func (c *Cache) Start(url string, opts Options) error {
	if strings.TrimSpace(url) == "" {
		return ErrInvalidURL
	}
	opts = c.resolveOptions(opts)

	for {
		c.mu.Lock()
		if c.findLocked(url) != nil {
			c.mu.Unlock()
			return nil
		}
		if idx := c.freeSlotLocked(); idx >= 0 {
			s := newSession(url, opts)
			c.slots[idx] = s
			c.mu.Unlock()
			c.logger.Info("prefetch started",
				slog.String("url", urlutil.Obfuscate(url)),
				slog.Int64("max_bytes", opts.MaxBytes),
			)
			go c.runWorker(s)
			return nil
		}
		victim, vidx := c.oldestLocked()
		c.slots[vidx] = nil
		c.mu.Unlock()

		c.logger.Info("evicting oldest prefetch entry",
			slog.String("url", urlutil.Obfuscate(victim.key)),
		)
		c.destroy(victim)
		// Another Start may have raced into the freed slot; re-check.
	}
}

// Info reports the current state of a cache entry. For unknown URLs it
// returns ErrNotFound alongside a zero-state snapshot.
func (c *Cache) Info(url string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.findLocked(url)
	if s == nil {
		return Info{Status: StatusNone, FileSize: -1}, ErrNotFound
	}
	var info Info
	s.fillInfo(&info)
	return info, nil
}

// Entries returns a snapshot of every live entry, keyed by URL.
func (c *Cache) Entries() map[string]Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Info)
	for _, s := range c.slots {
		if s == nil {
			continue
		}
		var info Info
		s.fillInfo(&info)
		out[s.key] = info
	}
	return out
}

// Len reports the number of occupied slots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, s := range c.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// Take removes a usable entry from the cache and transfers ownership of its
// resource to the caller, who becomes responsible for closing it. The worker
// is asked to stop cooperatively; the cancellation token is deliberately
// left untriggered so the resource's buffered state survives the handoff.
// Entries in the error state are not takeable.
func (c *Cache) Take(url string) (Resource, error) {
	c.mu.Lock()
	s := c.findLocked(url)
	if s == nil || s.status == StatusError || s.resource == nil {
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	s.requestStop()
	c.mu.Unlock()

	<-s.done

	c.mu.Lock()
	removed := c.removeLocked(s)
	var res Resource
	if removed {
		res = s.resource
		s.resource = nil
	}
	c.mu.Unlock()

	if !removed {
		// A concurrent eviction or cancel claimed the entry first and
		// owns its teardown.
		return nil, ErrNotFound
	}
	c.logger.Info("prefetch entry taken",
		slog.String("url", urlutil.Obfuscate(url)),
	)
	return res, nil
}

// Cancel aborts and removes a cache entry. The URL stops resolving before
// teardown begins, so a Start racing with Cancel creates a fresh entry.
func (c *Cache) Cancel(url string) error {
	c.mu.Lock()
	s := c.findLocked(url)
	if s == nil {
		c.mu.Unlock()
		return ErrNotFound
	}
	c.removeLocked(s)
	c.mu.Unlock()

	c.destroy(s)
	c.logger.Info("prefetch entry canceled",
		slog.String("url", urlutil.Obfuscate(url)),
	)
	return nil
}

// ClearAll aborts every entry. All cancellations are triggered before any
// join so teardown overlaps across entries.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	var victims []*session
	for i, s := range c.slots {
		if s == nil {
			continue
		}
		s.token.Trigger()
		victims = append(victims, s)
		c.slots[i] = nil
	}
	c.mu.Unlock()

	for _, s := range victims {
		<-s.done
	}

	for _, s := range victims {
		c.mu.Lock()
		res := s.resource
		s.resource = nil
		c.mu.Unlock()
		if res != nil {
			res.Close()
		}
	}
	if len(victims) > 0 {
		c.logger.Info("prefetch cache cleared", slog.Int("entries", len(victims)))
	}
}

// destroy triggers cancellation, joins the worker, and releases the
// session's resource. The session must already be detached from the table.
func (c *Cache) destroy(s *session) {
	s.token.Trigger()
	<-s.done

	c.mu.Lock()
	res := s.resource
	s.resource = nil
	c.mu.Unlock()

	if res != nil {
		res.Close()
	}
}

// findLocked scans the table for a URL. Caller holds c.mu.
func (c *Cache) findLocked(url string) *session {
	for _, s := range c.slots {
		if s != nil && s.key == url {
			return s
		}
	}
	return nil
}

// freeSlotLocked returns the index of a free slot, or -1. Caller holds c.mu.
func (c *Cache) freeSlotLocked() int {
	for i, s := range c.slots {
		if s == nil {
			return i
		}
	}
	return -1
}

// oldestLocked returns the entry with the earliest creation time. Caller
// holds c.mu and has verified the table is full.
func (c *Cache) oldestLocked() (*session, int) {
	var oldest *session
	idx := -1
	for i, s := range c.slots {
		if s == nil {
			continue
		}
		if oldest == nil || s.createdAt.Before(oldest.createdAt) {
			oldest = s
			idx = i
		}
	}
	return oldest, idx
}

// removeLocked clears the slot holding exactly this session, comparing by
// identity so a same-URL successor entry is never clobbered. Caller holds
// c.mu. Reports whether the session was still attached.
func (c *Cache) removeLocked(s *session) bool {
	for i, cur := range c.slots {
		if cur == s {
			c.slots[i] = nil
			return true
		}
	}
	return false
}

func (c *Cache) resolveOptions(opts Options) Options {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = c.defaultOpts.MaxBytes
	}
	if opts.ReadaheadSecs <= 0 {
		opts.ReadaheadSecs = c.defaultOpts.ReadaheadSecs
	}
	return opts
}
