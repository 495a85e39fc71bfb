package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/move-calendar/internal/models"
)

var ErrMalformedEvent = errors.New("ingest: malformed schedule event")

// rawEvent uses pointers so missing fields can be told apart from zero values.
type rawEvent struct {
	City        *string `json:"city"`
	Date        *string `json:"date"`
	IsScheduled *bool   `json:"isScheduled"`
	IsEmpty     *bool   `json:"isEmpty"`
	Version     *int64  `json:"version"`
}

// DecodeEvent parses and validates one push feed payload.
func DecodeEvent(b []byte) (models.ScheduleEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		return models.ScheduleEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return raw.validate()
}

func (r rawEvent) validate() (models.ScheduleEvent, error) {
	switch {
	case r.City == nil || strings.TrimSpace(*r.City) == "":
		return models.ScheduleEvent{}, fmt.Errorf("%w: missing city", ErrMalformedEvent)
	case r.Date == nil || !models.ValidDay(*r.Date):
		return models.ScheduleEvent{}, fmt.Errorf("%w: missing or invalid date", ErrMalformedEvent)
	case r.IsScheduled == nil || r.IsEmpty == nil:
		return models.ScheduleEvent{}, fmt.Errorf("%w: missing status flags", ErrMalformedEvent)
	case r.Version == nil || *r.Version <= 0:
		return models.ScheduleEvent{}, fmt.Errorf("%w: version must be positive", ErrMalformedEvent)
	}
	return models.ScheduleEvent{
		City:        strings.TrimSpace(*r.City),
		Date:        *r.Date,
		IsScheduled: *r.IsScheduled,
		IsEmpty:     *r.IsEmpty,
		Version:     *r.Version,
	}, nil
}

// EncodeEvent is the inverse of DecodeEvent for producers.
func EncodeEvent(ev models.ScheduleEvent) ([]byte, error) {
	return json.Marshal(ev)
}
