package provider

import (
	"context"
	"errors"
	"time"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/observability"
	"github.com/example/move-calendar/internal/storage"
)

// ScheduleReader is satisfied by *schedule.Cache.
type ScheduleReader interface {
	Get(ctx context.Context, city, day string) models.ScheduleEntry
}

// StoreProvider builds month data in-process from the schedule cache, the
// blocked-day list and the city charge table. It backs deployments without a
// remote provider.
type StoreProvider struct {
	Schedule ScheduleReader
	Store    storage.ScheduleStore
	Charges  storage.ChargeStore
}

func (p *StoreProvider) FetchMonth(ctx context.Context, route models.Route, month models.Month) (models.MonthData, error) {
	start := time.Now()
	data, err := p.build(ctx, route, month)
	observability.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderFetches.WithLabelValues("error").Inc()
		return models.MonthData{}, err
	}
	observability.ProviderFetches.WithLabelValues("ok").Inc()
	return data, nil
}

func (p *StoreProvider) build(ctx context.Context, route models.Route, month models.Month) (models.MonthData, error) {
	blocked, err := p.Store.BlockedDays(ctx, month.FirstDay(), month.LastDay())
	if err != nil {
		return models.MonthData{}, err
	}
	pickup, err := p.cityCharges(ctx, route.Pickup)
	if err != nil {
		return models.MonthData{}, err
	}
	dropoff, err := p.cityCharges(ctx, route.Dropoff)
	if err != nil {
		return models.MonthData{}, err
	}
	intercity := route.Pickup != route.Dropoff

	days := month.Days()
	out := models.MonthData{
		Days:   make(map[string]models.DayStatus, len(days)),
		Colors: make(map[string]models.ColorCode, len(days)),
		Charges: models.Charges{
			PickupCheap:     pickup.Cheap,
			PickupStandard:  pickup.Standard,
			DropoffCheap:    dropoff.Cheap,
			DropoffStandard: dropoff.Standard,
			IsIntercity:     intercity,
		},
	}
	for _, d := range days {
		pe := p.Schedule.Get(ctx, route.Pickup, d)
		de := pe
		if intercity {
			de = p.Schedule.Get(ctx, route.Dropoff, d)
		}
		s := models.DayStatus{
			PickupScheduled:  pe.IsScheduled,
			DropoffScheduled: de.IsScheduled,
			IsEmpty:          pe.IsEmpty && de.IsEmpty,
			IsBlocked:        blocked[d],
		}
		out.Days[d] = s
		out.Colors[d] = colorFor(s)
	}
	return out, nil
}

func (p *StoreProvider) cityCharges(ctx context.Context, city string) (models.CityCharges, error) {
	c, err := p.Charges.CityCharges(ctx, city)
	if errors.Is(err, storage.ErrNotFound) {
		return models.CityCharges{Cheap: FallbackCheap, Standard: FallbackStandard}, nil
	}
	return c, err
}

func colorFor(s models.DayStatus) models.ColorCode {
	switch {
	case s.IsBlocked:
		return models.ColorGrey
	case s.PickupScheduled || s.DropoffScheduled:
		return models.ColorGreen
	case s.IsEmpty:
		return models.ColorOrange
	}
	return models.ColorRed
}
