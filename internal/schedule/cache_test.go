package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/storage"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	entry   models.ScheduleEntry
	err     error
	started chan struct{} // signalled when a fetch begins
	gate    chan struct{} // when set, fetches block until it is closed
}

func (f *fakeFetcher) FetchEntry(ctx context.Context, city, day string) (models.ScheduleEntry, error) {
	f.mu.Lock()
	f.calls++
	entry, err, started, gate := f.entry, f.err, f.started, f.gate
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.ScheduleEntry{}, ctx.Err()
		}
	}
	return entry, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFeed struct {
	starts int
	closes int
	handle func(models.ScheduleEvent)
}

func (f *fakeFeed) Start(ctx context.Context, handle func(models.ScheduleEvent)) error {
	f.starts++
	f.handle = handle
	return nil
}

func (f *fakeFeed) Close() error { f.closes++; return nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(f Fetcher, feed Feed) (*Cache, *clock) {
	clk := &clock{t: time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)}
	return NewCache(f, feed, WithClock(clk.now), WithTTL(time.Minute)), clk
}

func TestApplyIncomingUpdate_VersionMonotonic(t *testing.T) {
	c, _ := newTestCache(nil, nil)
	if !c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsScheduled: true, Version: 5}) {
		t.Fatal("first update should be accepted")
	}
	if c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsEmpty: true, Version: 4}) {
		t.Fatal("older version accepted")
	}
	if c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsEmpty: true, Version: 5}) {
		t.Fatal("equal version accepted")
	}
	e, ok := c.Peek("berlin", "2026-10-20")
	if !ok || !e.IsScheduled || e.IsEmpty || e.Version != 5 {
		t.Fatalf("entry changed: %+v", e)
	}
	if !c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{Version: 6}) {
		t.Fatal("newer version rejected")
	}
}

func TestApplyIncomingUpdate_NotifiesSubscribers(t *testing.T) {
	c, _ := newTestCache(nil, nil)
	var got []string
	unsubA, _ := c.Subscribe(func(city, day string, s models.ScheduleStatus) { got = append(got, "a:"+city+":"+day) })
	_, _ = c.Subscribe(func(city, day string, s models.ScheduleStatus) {
		if !s.IsScheduled {
			t.Errorf("expected scheduled status")
		}
		got = append(got, "b:"+city+":"+day)
	})
	c.ApplyIncomingUpdate("hamburg", "2026-10-21", models.ScheduleEntry{IsScheduled: true, Version: 1})
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %v", got)
	}
	unsubA()
	unsubA()
	c.ApplyIncomingUpdate("hamburg", "2026-10-21", models.ScheduleEntry{IsScheduled: true, Version: 1})
	c.ApplyIncomingUpdate("hamburg", "2026-10-21", models.ScheduleEntry{IsScheduled: true, Version: 2})
	if len(got) != 3 || got[2] != "b:hamburg:2026-10-21" {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestGet_FreshHitSkipsFetch(t *testing.T) {
	f := &fakeFetcher{entry: models.ScheduleEntry{Version: 9}}
	c, clk := newTestCache(f, nil)
	c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsScheduled: true, Version: 3})
	clk.advance(30 * time.Second)
	if e := c.Get(context.Background(), "berlin", "2026-10-20"); e.Version != 3 {
		t.Fatalf("expected cached version 3, got %+v", e)
	}
	if f.calls != 0 {
		t.Fatalf("expected no fetch, got %d", f.calls)
	}
}

func TestGet_ExpiredEntryRefetches(t *testing.T) {
	f := &fakeFetcher{entry: models.ScheduleEntry{IsScheduled: false, IsEmpty: false, Version: 4}}
	c, clk := newTestCache(f, nil)
	c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsScheduled: true, Version: 3})
	clk.advance(61 * time.Second)
	e := c.Get(context.Background(), "berlin", "2026-10-20")
	if f.calls != 1 || e.Version != 4 || e.IsScheduled {
		t.Fatalf("expected refreshed entry, got %+v after %d calls", e, f.calls)
	}
	if !e.UpdatedAt.Equal(clk.now()) {
		t.Fatalf("refresh should restamp updatedAt, got %s", e.UpdatedAt)
	}
	// fresh again
	c.Get(context.Background(), "berlin", "2026-10-20")
	if f.calls != 1 {
		t.Fatalf("expected cached read, got %d calls", f.calls)
	}
}

func TestGet_FetchFailureFallsBack(t *testing.T) {
	f := &fakeFetcher{err: errors.New("unreachable")}
	c, clk := newTestCache(f, nil)

	if e := c.Get(context.Background(), "berlin", "2026-10-20"); e != models.DefaultScheduleEntry() {
		t.Fatalf("expected default entry, got %+v", e)
	}
	c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsScheduled: true, Version: 2})
	clk.advance(2 * time.Minute)
	if e := c.Get(context.Background(), "berlin", "2026-10-20"); !e.IsScheduled || e.Version != 2 {
		t.Fatalf("expected stale entry, got %+v", e)
	}
}

func TestGet_CanceledCallerDoesNotFailOtherWaiters(t *testing.T) {
	f := &fakeFetcher{
		entry:   models.ScheduleEntry{IsScheduled: true, Version: 3},
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	c, _ := newTestCache(f, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	resA := make(chan models.ScheduleEntry, 1)
	go func() { resA <- c.Get(ctxA, "berlin", "2026-10-20") }()
	<-f.started

	cancelA()
	select {
	case a := <-resA:
		if a.IsScheduled || !a.IsEmpty || a.Version != 0 {
			t.Fatalf("canceled caller should fall back to the default, got %+v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled caller still blocked on the fetch")
	}

	resB := make(chan models.ScheduleEntry, 1)
	go func() { resB <- c.Get(context.Background(), "berlin", "2026-10-20") }()
	time.Sleep(20 * time.Millisecond)
	close(f.gate)

	select {
	case b := <-resB:
		if !b.IsScheduled || b.Version != 3 {
			t.Fatalf("expected fetched entry, got %+v", b)
		}
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
	if n := f.callCount(); n != 1 {
		t.Fatalf("expected one shared fetch, got %d", n)
	}
	if e, ok := c.Peek("berlin", "2026-10-20"); !ok || e.Version != 3 {
		t.Fatalf("fetched entry not cached: %+v", e)
	}
}

func TestGet_NewerFetchNotifiesSubscribers(t *testing.T) {
	f := &fakeFetcher{entry: models.ScheduleEntry{IsEmpty: true, Version: 2}}
	c, clk := newTestCache(f, nil)
	var got []models.ScheduleStatus
	_, _ = c.Subscribe(func(city, day string, s models.ScheduleStatus) { got = append(got, s) })

	c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsScheduled: true, Version: 1})
	clk.advance(61 * time.Second)
	if e := c.Get(context.Background(), "berlin", "2026-10-20"); e.Version != 2 {
		t.Fatalf("expected fetched version 2, got %+v", e)
	}
	if len(got) != 2 || got[1].IsScheduled || !got[1].IsEmpty {
		t.Fatalf("expected a notification for the fetched entry, got %+v", got)
	}

	// same version again only renews freshness
	clk.advance(61 * time.Second)
	c.Get(context.Background(), "berlin", "2026-10-20")
	if f.callCount() != 2 || len(got) != 2 {
		t.Fatalf("unexpected notifications %+v after %d fetches", got, f.callCount())
	}
}

func TestGet_OlderFetchDoesNotOverwritePush(t *testing.T) {
	f := &fakeFetcher{entry: models.ScheduleEntry{Version: 1}}
	c, clk := newTestCache(f, nil)
	c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{IsScheduled: true, Version: 2})
	clk.advance(2 * time.Minute)
	if e := c.Get(context.Background(), "berlin", "2026-10-20"); e.Version != 2 || !e.IsScheduled {
		t.Fatalf("expected pushed entry to survive, got %+v", e)
	}
}

func TestInvalidate_ForcesRefetchButKeepsVersion(t *testing.T) {
	f := &fakeFetcher{entry: models.ScheduleEntry{Version: 7}}
	c, _ := newTestCache(f, nil)
	c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{Version: 7})
	c.Invalidate("berlin", "2026-10-20")
	c.Get(context.Background(), "berlin", "2026-10-20")
	if f.calls != 1 {
		t.Fatalf("expected refetch after invalidate, got %d", f.calls)
	}
	if c.ApplyIncomingUpdate("berlin", "2026-10-20", models.ScheduleEntry{Version: 6}) {
		t.Fatal("older push accepted after invalidate")
	}
}

func TestSubscribe_FeedLifecycle(t *testing.T) {
	feed := &fakeFeed{}
	c, _ := newTestCache(nil, feed)
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if feed.starts != 0 {
		t.Fatal("feed should start lazily")
	}
	var delivered int
	unsub, err := c.Subscribe(func(string, string, models.ScheduleStatus) { delivered++ })
	if err != nil {
		t.Fatal(err)
	}
	unsub2, _ := c.Subscribe(func(string, string, models.ScheduleStatus) {})
	if feed.starts != 1 {
		t.Fatalf("expected one start, got %d", feed.starts)
	}

	feed.handle(models.ScheduleEvent{City: "berlin", Date: "2026-10-20", IsScheduled: true, Version: 1})
	if delivered != 1 {
		t.Fatalf("expected feed event to reach subscriber, got %d", delivered)
	}

	unsub()
	unsub2()
	if feed.closes != 0 {
		t.Fatal("feed must stay up after the last subscriber leaves")
	}
	if _, err := c.Subscribe(func(string, string, models.ScheduleStatus) {}); err != nil || feed.starts != 1 {
		t.Fatalf("resubscribe should reuse the feed, starts=%d err=%v", feed.starts, err)
	}

	if err := c.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if feed.closes != 1 {
		t.Fatalf("expected close on shutdown, got %d", feed.closes)
	}
	if _, err := c.Subscribe(func(string, string, models.ScheduleStatus) {}); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestStoreFetcher_UnknownDayIsDefault(t *testing.T) {
	store := storage.NewMemoryStore()
	f := StoreFetcher{Store: store}
	e, err := f.FetchEntry(context.Background(), "berlin", "2026-10-20")
	if err != nil || e != models.DefaultScheduleEntry() {
		t.Fatalf("expected default entry, got %+v err=%v", e, err)
	}
}
