package schedule

import (
	"context"
	"errors"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/storage"
)

// StoreFetcher reads entries from the authoritative schedule store. A day the
// store has never seen is reported as the default entry at version 0.
type StoreFetcher struct {
	Store storage.ScheduleStore
}

func (f StoreFetcher) FetchEntry(ctx context.Context, city, day string) (models.ScheduleEntry, error) {
	e, err := f.Store.GetEntry(ctx, city, day)
	if errors.Is(err, storage.ErrNotFound) {
		return models.DefaultScheduleEntry(), nil
	}
	return e, err
}
