// Package pricing derives calendar prices from city charges and day statuses.
// Every function here is pure: no I/O, no clocks, no shared state.
package pricing

import (
	"math"

	"github.com/example/move-calendar/internal/models"
)

const (
	// emptyDayFactor is applied to the standard rate on days with no moves at all.
	emptyDayFactor = 0.75
	// flexCeilingDays is the longest flexible window that is still priced from the schedule.
	flexCeilingDays = 7
)

// Quote is the raw output of a derivation function.
type Quote struct {
	Price     float64
	Type      models.PriceType
	IsBlocked bool
}

func blocked() Quote {
	return Quote{Price: 0, Type: models.PriceBlocked, IsBlocked: true}
}

func quote(price float64, t models.PriceType) Quote {
	return Quote{Price: Round2(price), Type: t}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func avg(a, b float64) float64 { return (a + b) / 2 }

// blend prices an intercity booking from which side has a scheduled move.
func blend(pickupSide, dropoffSide bool, c models.Charges) (float64, bool) {
	switch {
	case pickupSide && dropoffSide:
		return avg(c.PickupCheap, c.DropoffCheap), true
	case pickupSide:
		return avg(c.PickupCheap, c.DropoffStandard), true
	case dropoffSide:
		return avg(c.DropoffCheap, c.PickupStandard), true
	}
	return 0, false
}

func maxStandard(c models.Charges) float64 {
	return math.Max(c.PickupStandard, c.DropoffStandard)
}

// FixedSingleDate prices a house move on a single date.
func FixedSingleDate(s models.DayStatus, c models.Charges) Quote {
	if s.IsBlocked {
		return blocked()
	}
	if !c.IsIntercity {
		return singleCity(s, c)
	}
	if p, ok := blend(s.PickupScheduled, s.DropoffScheduled, c); ok {
		return quote(p, models.PriceCheap)
	}
	if s.IsEmpty {
		return quote(emptyDayFactor*maxStandard(c), models.PriceEmpty)
	}
	return quote(maxStandard(c), models.PriceStandard)
}

// SameDateItem prices an item transport picked up and dropped off on one date.
// It differs from FixedSingleDate only on intercity empty days, where the plain
// average of the standard rates applies instead of a discounted maximum.
func SameDateItem(s models.DayStatus, c models.Charges) Quote {
	if s.IsBlocked {
		return blocked()
	}
	if !c.IsIntercity {
		return singleCity(s, c)
	}
	if p, ok := blend(s.PickupScheduled, s.DropoffScheduled, c); ok {
		return quote(p, models.PriceCheap)
	}
	if s.IsEmpty {
		return quote(avg(c.PickupStandard, c.DropoffStandard), models.PriceEmpty)
	}
	return quote(maxStandard(c), models.PriceStandard)
}

func singleCity(s models.DayStatus, c models.Charges) Quote {
	switch {
	case s.PickupScheduled:
		return quote(c.PickupCheap, models.PriceCheap)
	case s.IsEmpty:
		return quote(emptyDayFactor*c.PickupStandard, models.PriceEmpty)
	}
	return quote(c.PickupStandard, models.PriceStandard)
}

// DifferentDatesItem prices an item transport with distinct pickup and dropoff dates.
func DifferentDatesItem(pickupDay, dropoffDay models.DayStatus, c models.Charges) Quote {
	if pickupDay.IsBlocked || dropoffDay.IsBlocked {
		return blocked()
	}
	bothEmpty := pickupDay.IsEmpty && dropoffDay.IsEmpty

	if !c.IsIntercity {
		n := 0
		if pickupDay.PickupScheduled {
			n++
		}
		if dropoffDay.PickupScheduled {
			n++
		}
		switch {
		case n == 2:
			return quote(c.PickupCheap, models.PriceCheap)
		case n == 1:
			return quote(avg(c.PickupCheap, c.PickupStandard), models.PriceCheap)
		case bothEmpty:
			return quote(emptyDayFactor*c.PickupStandard, models.PriceEmpty)
		}
		return quote(c.PickupStandard, models.PriceStandard)
	}

	if p, ok := blend(pickupDay.PickupScheduled, dropoffDay.DropoffScheduled, c); ok {
		return quote(p, models.PriceCheap)
	}
	if bothEmpty {
		return quote(emptyDayFactor*maxStandard(c), models.PriceEmpty)
	}
	return quote(maxStandard(c), models.PriceStandard)
}

// FlexibleRangeEndpoint prices a flexible window as if end were the chosen end date.
// Days missing from raw count as neither scheduled nor empty.
func FlexibleRangeEndpoint(start, end string, raw map[string]models.DayStatus, c models.Charges) Quote {
	span, err := models.DaysBetween(start, end)
	if err != nil {
		return blocked()
	}
	if span < 0 {
		start, end = end, start
		span = -span
	}
	if span > flexCeilingDays {
		return quote(c.PickupCheap, models.PriceCheap)
	}
	if raw[end].IsBlocked {
		return blocked()
	}

	days, _ := models.DayRange(start, end)
	var pickupAny, dropoffAny, bothSameDay, emptyAny bool
	for _, d := range days {
		s := raw[d]
		if s.IsBlocked {
			continue
		}
		if s.PickupScheduled {
			pickupAny = true
		}
		if s.DropoffScheduled {
			dropoffAny = true
		}
		if s.PickupScheduled && s.DropoffScheduled {
			bothSameDay = true
		}
		if s.IsEmpty {
			emptyAny = true
		}
	}

	if !c.IsIntercity {
		switch {
		case pickupAny:
			return quote(c.PickupCheap, models.PriceCheap)
		case emptyAny:
			return quote(emptyDayFactor*c.PickupStandard, models.PriceEmpty)
		}
		return quote(c.PickupStandard, models.PriceStandard)
	}

	switch {
	case bothSameDay:
		return quote(avg(c.PickupCheap, c.DropoffCheap), models.PriceCheap)
	case pickupAny:
		return quote(avg(c.PickupCheap, c.DropoffStandard), models.PriceCheap)
	case dropoffAny:
		return quote(avg(c.DropoffCheap, c.PickupStandard), models.PriceCheap)
	case emptyAny:
		return quote(emptyDayFactor*maxStandard(c), models.PriceEmpty)
	}
	return quote(maxStandard(c), models.PriceStandard)
}
