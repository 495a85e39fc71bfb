package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/move-calendar/internal/models"
)

var ErrNotFound = errors.New("storage: not found")

// ScheduleStore is the authoritative home of per (city, day) schedule facts.
// PutEntry only applies strictly newer versions and reports whether it did.
type ScheduleStore interface {
	GetEntry(ctx context.Context, city, day string) (models.ScheduleEntry, error)
	PutEntry(ctx context.Context, city, day string, e models.ScheduleEntry) (bool, error)
	BlockedDays(ctx context.Context, from, to string) (map[string]bool, error)
	SetBlocked(ctx context.Context, day string, blocked bool) error
}

// ChargeStore holds the cheap/standard rates per city.
type ChargeStore interface {
	CityCharges(ctx context.Context, city string) (models.CityCharges, error)
}

type entryKey struct{ city, day string }

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[entryKey]models.ScheduleEntry
	blocked map[string]bool
	charges map[string]models.CityCharges
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[entryKey]models.ScheduleEntry),
		blocked: make(map[string]bool),
		charges: make(map[string]models.CityCharges),
	}
}

func (m *MemoryStore) GetEntry(_ context.Context, city, day string) (models.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entryKey{city, day}]
	if !ok {
		return models.ScheduleEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) PutEntry(_ context.Context, city, day string, e models.ScheduleEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entryKey{city, day}
	if cur, ok := m.entries[k]; ok && e.Version <= cur.Version {
		return false, nil
	}
	m.entries[k] = e
	return true, nil
}

func (m *MemoryStore) BlockedDays(_ context.Context, from, to string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool)
	for d := range m.blocked {
		if d >= from && d <= to {
			out[d] = true
		}
	}
	return out, nil
}

func (m *MemoryStore) SetBlocked(_ context.Context, day string, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blocked {
		m.blocked[day] = true
	} else {
		delete(m.blocked, day)
	}
	return nil
}

func (m *MemoryStore) CityCharges(_ context.Context, city string) (models.CityCharges, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charges[city]
	if !ok {
		return models.CityCharges{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) SetCityCharges(city string, c models.CityCharges) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[city] = c
}
