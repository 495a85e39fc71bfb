// Package selection tracks the dates a customer has picked on the calendar.
package selection

import "github.com/example/move-calendar/internal/models"

type Kind string

const (
	None             Kind = "none"
	PickupOnly       Kind = "pickup_only"
	PickupAndDropoff Kind = "pickup_and_dropoff"
	FlexStart        Kind = "flex_start"
	FlexRange        Kind = "flex_range"
)

// State is a tagged union over the selection kinds. Second is only set for
// PickupAndDropoff and FlexRange.
type State struct {
	Kind   Kind   `json:"kind"`
	First  string `json:"first,omitempty"`
	Second string `json:"second,omitempty"`
}

func Empty() State { return State{Kind: None} }

// Machine is a selection state machine for one booking mode. It is not safe
// for concurrent use; the owning calendar session serializes access.
type Machine struct {
	mode  models.BookingMode
	state State
}

func NewMachine(mode models.BookingMode) *Machine {
	return &Machine{mode: mode, state: Empty()}
}

func (m *Machine) Mode() models.BookingMode { return m.mode }
func (m *Machine) State() State             { return m.state }

// Reset clears the selection, optionally switching mode.
func (m *Machine) Reset(mode models.BookingMode) {
	m.mode = mode
	m.state = Empty()
}

// Click applies a day click. Clicks on blocked, past or malformed days are
// ignored and report false.
func (m *Machine) Click(day string, status models.DayStatus, today string) bool {
	if !models.ValidDay(day) || status.IsBlocked || day < today {
		return false
	}
	switch m.mode {
	case models.ModeHouseMove:
		m.state = State{Kind: PickupOnly, First: day}
	case models.ModeItemTransport:
		m.state = clickItem(m.state, day)
	case models.ModeFlexible:
		m.state = clickFlexible(m.state, day)
	default:
		return false
	}
	return true
}

func clickItem(s State, day string) State {
	if s.Kind == PickupOnly && day >= s.First {
		return State{Kind: PickupAndDropoff, First: s.First, Second: day}
	}
	// covers the first click, start-over after a full pair, and a dropoff
	// earlier than the pickup
	return State{Kind: PickupOnly, First: day}
}

func clickFlexible(s State, day string) State {
	if s.Kind != FlexStart {
		return State{Kind: FlexStart, First: day}
	}
	start, end := s.First, day
	if end < start {
		start, end = end, start
	}
	return State{Kind: FlexRange, First: start, Second: end}
}

// Prompt returns the instruction shown above the calendar.
func Prompt(mode models.BookingMode, s State) string {
	switch mode {
	case models.ModeHouseMove:
		if s.Kind == PickupOnly {
			return "Moving date selected"
		}
		return "Select your moving date"
	case models.ModeItemTransport:
		switch s.Kind {
		case PickupOnly:
			return "Now select dropoff date"
		case PickupAndDropoff:
			return "Pickup and dropoff selected"
		}
		return "Select pickup date"
	case models.ModeFlexible:
		switch s.Kind {
		case FlexStart:
			return "Select end of range"
		case FlexRange:
			return "Date range selected"
		}
		return "Select start of range"
	}
	return ""
}
