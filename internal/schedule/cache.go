// Package schedule holds the process-wide versioned cache of per (city, day)
// scheduling facts, kept fresh by fetches and by the push feed.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/move-calendar/internal/logging"
	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/observability"
)

const (
	DefaultTTL          = 60 * time.Second
	DefaultFetchTimeout = 5 * time.Second
)

var ErrShutdown = errors.New("schedule: cache is shut down")

// Fetcher loads the authoritative entry for one (city, day).
type Fetcher interface {
	FetchEntry(ctx context.Context, city, day string) (models.ScheduleEntry, error)
}

// Feed is the push channel behind the cache. Start must not block; events are
// delivered through handle until Close.
type Feed interface {
	Start(ctx context.Context, handle func(models.ScheduleEvent)) error
	Close() error
}

// Subscriber is called synchronously for every accepted update, pushed or
// fetched. It must not call back into Get or ApplyIncomingUpdate.
type Subscriber = func(city, day string, status models.ScheduleStatus)

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds a shared miss-path fetch. The fetch outlives any
// single caller's context, so this is its only deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.logger = l } }

type key struct{ city, day string }

type Cache struct {
	fetcher Fetcher
	feed    Feed
	ttl     time.Duration
	now     func() time.Time

	fetchTimeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group

	mu      sync.RWMutex
	entries map[key]models.ScheduleEntry

	// notifyMu serializes accept+notify so subscribers observe accepted
	// updates in acceptance order.
	notifyMu sync.Mutex

	subMu       sync.Mutex
	subs        map[uint64]Subscriber
	nextSub     uint64
	feedStarted bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewCache wires a cache. feed may be nil when updates only arrive through
// ApplyIncomingUpdate.
func NewCache(fetcher Fetcher, feed Feed, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		feed:    feed,
		ttl:     DefaultTTL,
		now:     time.Now,

		fetchTimeout: DefaultFetchTimeout,
		logger:  logging.Discard(),
		entries: make(map[key]models.ScheduleEntry),
		subs:    make(map[uint64]Subscriber),
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Init binds the feed lifetime to ctx. It is optional; without it the feed
// lives until Shutdown.
func (c *Cache) Init(ctx context.Context) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return ErrShutdown
	}
	if c.feedStarted {
		return nil
	}
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	return nil
}

// Shutdown tears down the push feed and drops all subscribers.
func (c *Cache) Shutdown() error {
	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	c.subs = make(map[uint64]Subscriber)
	started := c.feedStarted
	c.feedStarted = false
	c.subMu.Unlock()

	// the feed goroutine may be inside ApplyIncomingUpdate; close without holding subMu
	if started && c.feed != nil {
		return c.feed.Close()
	}
	return nil
}

// Subscribe registers fn and starts the feed on first use. The feed is kept
// running after the last subscriber leaves so the next one attaches without
// reconnecting; only Shutdown stops it.
func (c *Cache) Subscribe(fn Subscriber) (func(), error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	if !c.feedStarted && c.feed != nil {
		if err := c.feed.Start(c.ctx, c.handleEvent); err != nil {
			return nil, err
		}
		c.feedStarted = true
		c.logger.Info("schedule feed started")
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}, nil
}

func (c *Cache) Subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *Cache) handleEvent(ev models.ScheduleEvent) {
	c.ApplyIncomingUpdate(ev.City, ev.Date, ev.Entry())
}

// ApplyIncomingUpdate stores e only if it is strictly newer than the cached
// entry. Accepted updates are stamped with the local arrival time and
// delivered to every subscriber before returning.
func (c *Cache) ApplyIncomingUpdate(city, day string, e models.ScheduleEntry) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	k := key{city, day}
	c.mu.Lock()
	if cur, ok := c.entries[k]; ok && e.Version <= cur.Version {
		c.mu.Unlock()
		observability.ScheduleUpdates.WithLabelValues("discarded").Inc()
		c.logger.Debug("stale schedule update discarded", "city", city, "day", day, "version", e.Version, "cached_version", cur.Version)
		return false
	}
	e.UpdatedAt = c.now()
	c.entries[k] = e
	c.mu.Unlock()
	observability.ScheduleUpdates.WithLabelValues("accepted").Inc()

	c.notify(city, day, e.Status())
	return true
}

// notify must be called with notifyMu held.
func (c *Cache) notify(city, day string, status models.ScheduleStatus) {
	c.subMu.Lock()
	subs := make([]Subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.Unlock()

	for _, s := range subs {
		s(city, day, status)
	}
}

// Get returns a fresh cached entry or refreshes it from the fetcher. When the
// refresh fails the stale entry is returned, or the conservative default when
// nothing was ever cached.
func (c *Cache) Get(ctx context.Context, city, day string) models.ScheduleEntry {
	k := key{city, day}
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.UpdatedAt) < c.ttl {
		observability.CacheHits.Inc()
		return e
	}
	observability.CacheMisses.Inc()

	if c.fetcher != nil {
		ch := c.group.DoChan(city+"|"+day, func() (interface{}, error) {
			// shared by every waiter, so it must not die with the first caller
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
			defer cancel()
			fetched, err := c.fetcher.FetchEntry(fctx, city, day)
			if err != nil {
				return nil, err
			}
			return c.storeFetched(k, city, day, fetched), nil
		})
		select {
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(models.ScheduleEntry)
			}
			c.logger.Warn("schedule refresh failed", "city", city, "day", day, "error", res.Err)
		case <-ctx.Done():
			c.logger.Debug("schedule refresh abandoned by caller", "city", city, "day", day, "error", ctx.Err())
		}
	}

	observability.CacheStaleFallbacks.Inc()
	c.mu.RLock()
	e, ok = c.entries[k]
	c.mu.RUnlock()
	if ok {
		return e
	}
	return models.DefaultScheduleEntry()
}

// storeFetched keeps whichever of the fetched and cached entries has the
// higher version; an equal version just renews freshness. A fetch that
// supersedes a cached entry is an update like a push and reaches subscribers.
func (c *Cache) storeFetched(k key, city, day string, fetched models.ScheduleEntry) models.ScheduleEntry {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	cur, ok := c.entries[k]
	if ok && fetched.Version < cur.Version {
		c.mu.Unlock()
		return cur
	}
	fetched.UpdatedAt = c.now()
	c.entries[k] = fetched
	c.mu.Unlock()

	if ok && fetched.Version > cur.Version {
		observability.ScheduleUpdates.WithLabelValues("refreshed").Inc()
		c.notify(city, day, fetched.Status())
	}
	return fetched
}

// Peek returns the cached entry without refreshing it.
func (c *Cache) Peek(city, day string) (models.ScheduleEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key{city, day}]
	return e, ok
}

// Invalidate marks an entry stale so the next Get refreshes it. The version
// is kept, so older pushes are still rejected.
func (c *Cache) Invalidate(city, day string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{city, day}
	if e, ok := c.entries[k]; ok {
		e.UpdatedAt = time.Time{}
		c.entries[k] = e
	}
}
