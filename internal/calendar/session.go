// Package calendar owns one customer's calendar: the month data fetched so
// far, the charges for the current route, and the date selection.
package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/observability"
	"github.com/example/move-calendar/internal/pricing"
	"github.com/example/move-calendar/internal/provider"
	"github.com/example/move-calendar/internal/selection"
)

// ErrSuperseded is returned by LoadMonth when its result was dropped because a
// newer fetch finished first or the route changed while it was in flight.
var ErrSuperseded = errors.New("calendar: fetch superseded")

// Session is safe for concurrent use. Only LoadMonth performs I/O and it does
// so without holding the session lock.
type Session struct {
	ID string

	provider provider.Provider
	now      func() time.Time

	mu         sync.Mutex
	route      models.Route
	routeEpoch uint64
	days       map[string]models.DayStatus
	colors     map[string]models.ColorCode
	charges    models.Charges
	loaded     map[models.Month]bool
	dirty      map[models.Month]uint64 // bumped by pushed updates
	pending    map[models.Month]*flight
	inflight   int
	lastErr    error
	generation uint64 // last issued fetch
	applied    uint64 // newest fetch whose result was merged
	machine    *selection.Machine
	lastUsed   time.Time
}

func NewSession(id string, route models.Route, p provider.Provider, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{ID: id, provider: p, now: now, route: route, machine: selection.NewMachine(route.Mode())}
	s.resetData()
	s.lastUsed = now()
	return s
}

func (s *Session) resetData() {
	s.days = make(map[string]models.DayStatus)
	s.colors = make(map[string]models.ColorCode)
	s.charges = models.Charges{}
	s.loaded = make(map[models.Month]bool)
	s.dirty = make(map[models.Month]uint64)
	s.pending = make(map[models.Month]*flight)
	s.lastErr = nil
}

// flight is one provider fetch for one month. Concurrent loads of the same
// month wait on it instead of fetching again.
type flight struct {
	done chan struct{}
	err  error
}

func (s *Session) Route() models.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// SetRoute switches location pair, service or date option. Anything derived
// from the previous charge table is dropped, including the selection.
func (s *Session) SetRoute(r models.Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	if r == s.route {
		return
	}
	s.route = r
	s.routeEpoch++
	s.resetData()
	s.machine.Reset(r.Mode())
}

// LoadMonth fetches a month unless it is already loaded and clean. The result
// is merged into the running maps so earlier months stay queryable. On
// failure prior data is kept and the error is remembered for Snapshot; there
// is no automatic retry. A pushed update that lands while the fetch is in
// flight leaves the month dirty, so the next call fetches again.
func (s *Session) LoadMonth(ctx context.Context, month models.Month) error {
	s.mu.Lock()
	s.lastUsed = s.now()
	if s.loaded[month] {
		s.mu.Unlock()
		return nil
	}
	if f, ok := s.pending[month]; ok {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	s.pending[month] = f
	s.generation++
	gen, epoch, route, dirty := s.generation, s.routeEpoch, s.route, s.dirty[month]
	s.inflight++
	s.mu.Unlock()

	data, err := s.provider.FetchMonth(ctx, route, month)

	s.mu.Lock()
	defer s.mu.Unlock()
	f.err = s.finishLoad(month, data, err, gen, epoch, dirty)
	if s.pending[month] == f {
		delete(s.pending, month)
	}
	close(f.done)
	return f.err
}

func (s *Session) finishLoad(month models.Month, data models.MonthData, err error, gen, epoch, dirty uint64) error {
	s.inflight--
	if epoch != s.routeEpoch || gen < s.applied {
		observability.FetchesSuperseded.Inc()
		return ErrSuperseded
	}
	if err != nil {
		s.lastErr = err
		return err
	}
	s.merge(data)
	s.applied = gen
	s.lastErr = nil
	if s.dirty[month] == dirty {
		s.loaded[month] = true
	}
	return nil
}

// merge is last-write-wins per day; charges are replaced as a whole.
func (s *Session) merge(data models.MonthData) {
	for d, st := range data.Days {
		s.days[d] = st
	}
	for d, c := range data.Colors {
		s.colors[d] = c
	}
	s.charges = data.Charges
}

// OnScheduleUpdate marks the month of day for re-fetch when the update
// concerns one of this session's cities. It has the schedule.Subscriber shape.
func (s *Session) OnScheduleUpdate(city, day string, _ models.ScheduleStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if city != s.route.Pickup && city != s.route.Dropoff {
		return
	}
	t, err := models.ParseDay(day)
	if err != nil {
		return
	}
	m := models.MonthOf(t)
	delete(s.loaded, m)
	s.dirty[m]++
}

// NeedsFetch reports whether LoadMonth would hit the provider.
func (s *Session) NeedsFetch(month models.Month) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loaded[month]
}

// Click applies a day click. It is a no-op while a fetch is in flight, for
// days without data, and for blocked or past days.
func (s *Session) Click(day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	if s.inflight > 0 {
		return false
	}
	status, ok := s.days[day]
	if !ok {
		return false
	}
	return s.machine.Click(day, status, models.DayKey(s.now()))
}

func (s *Session) Selection() selection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Prices derives every known day of month from the cached data only.
func (s *Session) Prices(month models.Month) map[string]models.DerivedPrice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prices(month)
}

func (s *Session) prices(month models.Month) map[string]models.DerivedPrice {
	today := models.DayKey(s.now())
	out := make(map[string]models.DerivedPrice)
	for _, d := range month.Days() {
		status, ok := s.days[d]
		if !ok {
			continue
		}
		out[d] = s.derive(d, status, s.candidate(d, status), today)
	}
	return out
}

// candidate is the price shown on day given the current selection: what the
// booking would cost if day were the next click.
func (s *Session) candidate(day string, status models.DayStatus) pricing.Quote {
	if status.IsBlocked {
		return pricing.Quote{Type: models.PriceBlocked, IsBlocked: true}
	}
	st := s.machine.State()
	switch s.machine.Mode() {
	case models.ModeItemTransport:
		if st.Kind == selection.PickupOnly && day > st.First {
			return pricing.DifferentDatesItem(s.days[st.First], status, s.charges)
		}
		return pricing.SameDateItem(status, s.charges)
	case models.ModeFlexible:
		if st.Kind == selection.FlexStart {
			return pricing.FlexibleRangeEndpoint(st.First, day, s.days, s.charges)
		}
		return pricing.FlexibleRangeEndpoint(day, day, s.days, s.charges)
	}
	return pricing.FixedSingleDate(status, s.charges)
}

// derive attaches the server color and the selectability to a quote. The
// color map is authoritative for labels; the quote's own type is only used
// when the server sent no usable tag.
func (s *Session) derive(day string, status models.DayStatus, q pricing.Quote, today string) models.DerivedPrice {
	blocked := status.IsBlocked || q.IsBlocked
	dp := models.DerivedPrice{Price: q.Price, PriceType: q.Type, IsBlocked: blocked}
	if blocked {
		dp.Price = 0
		dp.PriceType = models.PriceBlocked
	}
	if c, ok := s.colors[day]; ok {
		dp.ColorCode = c
		if pt, ok := models.PriceTypeForColor(c); ok && !blocked && c != models.ColorGrey {
			dp.PriceType = pt
		}
	} else {
		dp.ColorCode = colorForType(dp.PriceType)
	}
	dp.Selectable = !blocked && day >= today
	return dp
}

func colorForType(t models.PriceType) models.ColorCode {
	switch t {
	case models.PriceCheap:
		return models.ColorGreen
	case models.PriceEmpty:
		return models.ColorOrange
	case models.PriceStandard:
		return models.ColorRed
	}
	return models.ColorGrey
}

// Quote prices a complete selection. It reports false while the selection
// is still partial.
func (s *Session) Quote() (models.DerivedPrice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quote()
}

func (s *Session) quote() (models.DerivedPrice, bool) {
	st := s.machine.State()
	var q pricing.Quote
	var day string
	switch {
	case s.machine.Mode() == models.ModeHouseMove && st.Kind == selection.PickupOnly:
		day = st.First
		q = pricing.FixedSingleDate(s.days[day], s.charges)
	case st.Kind == selection.PickupAndDropoff:
		day = st.Second
		if st.First == st.Second {
			q = pricing.SameDateItem(s.days[day], s.charges)
		} else {
			q = pricing.DifferentDatesItem(s.days[st.First], s.days[day], s.charges)
		}
	case st.Kind == selection.FlexRange:
		day = st.Second
		q = pricing.FlexibleRangeEndpoint(st.First, st.Second, s.days, s.charges)
	default:
		return models.DerivedPrice{}, false
	}
	return models.DerivedPrice{
		Price:      q.Price,
		ColorCode:  colorForType(q.Type),
		PriceType:  q.Type,
		IsBlocked:  q.IsBlocked,
		Selectable: !q.IsBlocked,
	}, true
}

// View is everything the calendar view needs for one render.
type View struct {
	SessionID string                         `json:"session_id"`
	Month     string                         `json:"month"`
	Mode      string                         `json:"mode"`
	Loading   bool                           `json:"loading"`
	Error     string                         `json:"error,omitempty"`
	Selection selection.State                `json:"selection"`
	Prompt    string                         `json:"prompt"`
	Charges   models.Charges                 `json:"charges"`
	Prices    map[string]models.DerivedPrice `json:"prices"`
	Quote     *models.DerivedPrice           `json:"quote,omitempty"`
}

func (s *Session) Snapshot(month models.Month) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		SessionID: s.ID,
		Month:     month.String(),
		Mode:      s.machine.Mode().String(),
		Loading:   s.inflight > 0,
		Selection: s.machine.State(),
		Prompt:    selection.Prompt(s.machine.Mode(), s.machine.State()),
		Charges:   s.charges,
		Prices:    s.prices(month),
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	if q, ok := s.quote(); ok {
		v.Quote = &q
	}
	return v
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
