// Package provider fetches one month of raw calendar data for a route.
package provider

import (
	"context"
	"errors"

	"github.com/example/move-calendar/internal/models"
)

// Charge values used when the provider omits a charge or sends one that does not parse.
const (
	FallbackCheap    = 64.0
	FallbackStandard = 89.0
)

var ErrFetchFailed = errors.New("provider: fetch failed")

type Provider interface {
	FetchMonth(ctx context.Context, route models.Route, month models.Month) (models.MonthData, error)
}

// Request is the wire shape sent to the pricing data provider. Dates are
// built from the month's calendar fields, never from a zone conversion.
type Request struct {
	PickupLocation  string             `json:"pickupLocation"`
	DropoffLocation string             `json:"dropoffLocation"`
	StartDate       string             `json:"startDate"`
	EndDate         string             `json:"endDate"`
	ServiceType     models.ServiceType `json:"serviceType"`
	DateOption      models.DateOption  `json:"dateOption"`
}

func NewRequest(route models.Route, month models.Month) Request {
	return Request{
		PickupLocation:  route.Pickup,
		DropoffLocation: route.Dropoff,
		StartDate:       month.FirstDay(),
		EndDate:         month.LastDay(),
		ServiceType:     route.ServiceType,
		DateOption:      route.DateOption,
	}
}
