package calendar

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/observability"
	"github.com/example/move-calendar/internal/provider"
)

var ErrSessionNotFound = errors.New("calendar: session not found")

// Subscriber registration as offered by *schedule.Cache.
type UpdateSource interface {
	Subscribe(fn func(city, day string, status models.ScheduleStatus)) (func(), error)
}

// Registry keeps the open calendar sessions and fans schedule updates out to them.
type Registry struct {
	provider provider.Provider
	idle     time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	unsubscribe func()
	cron        *cron.Cron
}

func NewRegistry(p provider.Provider, idle time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		provider: p,
		idle:     idle,
		now:      time.Now,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Attach subscribes the registry to schedule updates.
func (r *Registry) Attach(src UpdateSource) error {
	unsub, err := src.Subscribe(r.onScheduleUpdate)
	if err != nil {
		return err
	}
	r.unsubscribe = unsub
	return nil
}

func (r *Registry) onScheduleUpdate(city, day string, status models.ScheduleStatus) {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()
	for _, s := range list {
		s.OnScheduleUpdate(city, day, status)
	}
}

func (r *Registry) Create(route models.Route) *Session {
	s := NewSession(uuid.NewString(), route, r.provider, r.now)
	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	observability.SessionsActive.Set(float64(n))
	r.logger.Debug("calendar session created", "session_id", s.ID, "pickup", route.Pickup, "dropoff", route.Dropoff, "mode", route.Mode().String())
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	observability.SessionsActive.Set(float64(n))
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap drops sessions idle for longer than the configured timeout.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.idle)
	r.mu.Lock()
	removed := 0
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()
	observability.SessionsActive.Set(float64(n))
	if removed > 0 {
		r.logger.Info("reaped idle calendar sessions", "removed", removed, "remaining", n)
	}
	return removed
}

// StartReaper runs Reap on a cron spec such as "@every 5m".
func (r *Registry) StartReaper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.Reap() }); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Close stops the reaper and the schedule subscription.
func (r *Registry) Close() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
