package models

import "time"

// DayStatus describes one calendar day for a specific pickup/dropoff pair.
type DayStatus struct {
	PickupScheduled  bool `json:"pickup_scheduled"`
	DropoffScheduled bool `json:"dropoff_scheduled"`
	IsEmpty          bool `json:"is_empty"`
	IsBlocked        bool `json:"is_blocked"`
}

// Charges are the city charges for one pickup/dropoff pair, replaced as a whole on every fetch.
type Charges struct {
	PickupCheap     float64 `json:"pickup_cheap"`
	PickupStandard  float64 `json:"pickup_standard"`
	DropoffCheap    float64 `json:"dropoff_cheap"`
	DropoffStandard float64 `json:"dropoff_standard"`
	IsIntercity     bool    `json:"is_intercity"`
}

// CityCharges is the cheap/standard rate pair configured for a single city.
type CityCharges struct {
	Cheap    float64 `json:"cheap" yaml:"cheap"`
	Standard float64 `json:"standard" yaml:"standard"`
}

type ColorCode string

const (
	ColorGreen  ColorCode = "green"
	ColorOrange ColorCode = "orange"
	ColorRed    ColorCode = "red"
	ColorGrey   ColorCode = "grey"
)

func (c ColorCode) Valid() bool {
	switch c {
	case ColorGreen, ColorOrange, ColorRed, ColorGrey:
		return true
	}
	return false
}

type PriceType string

const (
	PriceCheap    PriceType = "cheap"
	PriceEmpty    PriceType = "empty"
	PriceStandard PriceType = "standard"
	PriceBlocked  PriceType = "blocked"
)

// PriceTypeForColor maps a server color tag onto its price label.
func PriceTypeForColor(c ColorCode) (PriceType, bool) {
	switch c {
	case ColorGreen:
		return PriceCheap, true
	case ColorOrange:
		return PriceEmpty, true
	case ColorRed:
		return PriceStandard, true
	case ColorGrey:
		return PriceBlocked, true
	}
	return "", false
}

// DerivedPrice is what a calendar cell shows. It is always recomputed, never stored.
type DerivedPrice struct {
	Price      float64   `json:"price"`
	ColorCode  ColorCode `json:"color_code"`
	PriceType  PriceType `json:"price_type"`
	IsBlocked  bool      `json:"is_blocked"`
	Selectable bool      `json:"selectable"`
}

// ScheduleStatus is the payload handed to schedule subscribers.
type ScheduleStatus struct {
	IsScheduled bool `json:"is_scheduled"`
	IsEmpty     bool `json:"is_empty"`
}

// ScheduleEntry is the versioned per (city, date) scheduling fact.
type ScheduleEntry struct {
	IsScheduled bool      `json:"is_scheduled"`
	IsEmpty     bool      `json:"is_empty"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e ScheduleEntry) Status() ScheduleStatus {
	return ScheduleStatus{IsScheduled: e.IsScheduled, IsEmpty: e.IsEmpty}
}

// DefaultScheduleEntry is returned when nothing is known about a (city, date).
func DefaultScheduleEntry() ScheduleEntry {
	return ScheduleEntry{IsScheduled: false, IsEmpty: true}
}

// ScheduleEvent is a validated message from the scheduling push feed.
type ScheduleEvent struct {
	City        string `json:"city"`
	Date        string `json:"date"`
	IsScheduled bool   `json:"isScheduled"`
	IsEmpty     bool   `json:"isEmpty"`
	Version     int64  `json:"version"`
}

func (e ScheduleEvent) Entry() ScheduleEntry {
	return ScheduleEntry{IsScheduled: e.IsScheduled, IsEmpty: e.IsEmpty, Version: e.Version}
}

type ServiceType string

const (
	ServiceHouseMove     ServiceType = "house_move"
	ServiceItemTransport ServiceType = "item_transport"
)

type DateOption string

const (
	DateFixed    DateOption = "fixed"
	DateFlexible DateOption = "flexible"
)

// BookingMode selects the derivation function family and selection machine.
type BookingMode int

const (
	ModeHouseMove BookingMode = iota
	ModeItemTransport
	ModeFlexible
)

func (m BookingMode) String() string {
	switch m {
	case ModeHouseMove:
		return "house_move"
	case ModeItemTransport:
		return "item_transport"
	case ModeFlexible:
		return "flexible"
	}
	return "unknown"
}

// ModeFor resolves the booking mode from the externally supplied service type and date option.
func ModeFor(service ServiceType, option DateOption) BookingMode {
	if option == DateFlexible {
		return ModeFlexible
	}
	if service == ServiceItemTransport {
		return ModeItemTransport
	}
	return ModeHouseMove
}

// Route identifies the pickup/dropoff pair and service a calendar is priced for.
// Locations are opaque keys; they double as the city keys of the schedule feed.
type Route struct {
	Pickup      string      `json:"pickup"`
	Dropoff     string      `json:"dropoff"`
	ServiceType ServiceType `json:"service_type"`
	DateOption  DateOption  `json:"date_option"`
}

func (r Route) Mode() BookingMode { return ModeFor(r.ServiceType, r.DateOption) }

// MonthData is the result of one provider fetch for one visible month.
type MonthData struct {
	Days    map[string]DayStatus
	Colors  map[string]ColorCode
	Charges Charges
}
