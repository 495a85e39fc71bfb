package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/observability"
)

const maxBackoff = 30 * time.Second

// MessageReader is the part of *kafka.Reader the consume loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Consume reads until ctx is done. Malformed payloads are counted and
// skipped; read errors back off exponentially up to maxBackoff.
func Consume(ctx context.Context, r MessageReader, logger *slog.Logger, handle func(context.Context, models.ScheduleEvent)) {
	backoff := time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		ev, err := DecodeEvent(m.Value)
		if err != nil {
			observability.FeedEventsInvalid.Inc()
			logger.Warn("invalid schedule event", "error", err, "offset", m.Offset)
			continue
		}
		handle(ctx, ev)
	}
}
