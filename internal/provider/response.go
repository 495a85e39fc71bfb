package provider

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/example/move-calendar/internal/models"
)

type Response struct {
	Dates   []DateEntry `json:"dates"`
	Summary Summary     `json:"summary"`
}

type DateEntry struct {
	Date      string    `json:"date"`
	ColorCode string    `json:"colorCode"`
	Breakdown Breakdown `json:"breakdown"`
}

type Breakdown struct {
	PickupCityScheduled  bool `json:"pickupCityScheduled"`
	DropoffCityScheduled bool `json:"dropoffCityScheduled"`
	IsEmpty              bool `json:"isEmpty"`
	IsBlocked            bool `json:"isBlocked"`
}

type Summary struct {
	PickupCharge  ChargePair `json:"pickupCharge"`
	DropoffCharge ChargePair `json:"dropoffCharge"`
	IsIntercity   bool       `json:"isIntercity"`
}

type ChargePair struct {
	Cheap    ChargeValue `json:"cheap"`
	Standard ChargeValue `json:"standard"`
}

// ChargeValue accepts a JSON number or a numeric string. Anything else
// leaves it unset instead of failing the whole response.
type ChargeValue struct {
	value float64
	set   bool
}

func Charge(v float64) ChargeValue { return ChargeValue{value: v, set: true} }

func (c *ChargeValue) UnmarshalJSON(b []byte) error {
	*c = ChargeValue{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	c.value, c.set = f, true
	return nil
}

func (c ChargeValue) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	return json.Marshal(c.value)
}

func (c ChargeValue) Or(def float64) float64 {
	if !c.set {
		return def
	}
	return c.value
}

// MonthData converts the wire response. Entries with malformed dates are
// dropped and unknown color tags are left out of the color map.
func (r Response) MonthData() models.MonthData {
	out := models.MonthData{
		Days:   make(map[string]models.DayStatus, len(r.Dates)),
		Colors: make(map[string]models.ColorCode, len(r.Dates)),
		Charges: models.Charges{
			PickupCheap:     r.Summary.PickupCharge.Cheap.Or(FallbackCheap),
			PickupStandard:  r.Summary.PickupCharge.Standard.Or(FallbackStandard),
			DropoffCheap:    r.Summary.DropoffCharge.Cheap.Or(FallbackCheap),
			DropoffStandard: r.Summary.DropoffCharge.Standard.Or(FallbackStandard),
			IsIntercity:     r.Summary.IsIntercity,
		},
	}
	for _, d := range r.Dates {
		if !models.ValidDay(d.Date) {
			continue
		}
		out.Days[d.Date] = models.DayStatus{
			PickupScheduled:  d.Breakdown.PickupCityScheduled,
			DropoffScheduled: d.Breakdown.DropoffCityScheduled,
			IsEmpty:          d.Breakdown.IsEmpty,
			IsBlocked:        d.Breakdown.IsBlocked,
		}
		if c := models.ColorCode(strings.ToLower(d.ColorCode)); c.Valid() {
			out.Colors[d.Date] = c
		}
	}
	return out
}
