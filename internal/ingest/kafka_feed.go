package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/example/move-calendar/internal/models"
)

// KafkaFeed is the push channel of the schedule cache, backed by a consumer group reader.
type KafkaFeed struct {
	cfg    kafka.ReaderConfig
	logger *slog.Logger

	mu     sync.Mutex
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaFeed reads from the tail of topic. Every API replica needs every
// event, so callers pass a group unique to the process.
func NewKafkaFeed(brokers []string, topic, group string, logger *slog.Logger) *KafkaFeed {
	return &KafkaFeed{
		cfg:    kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, StartOffset: kafka.LastOffset, MinBytes: 1, MaxBytes: 10e6},
		logger: logger,
	}
}

func (f *KafkaFeed) Start(ctx context.Context, handle func(models.ScheduleEvent)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reader != nil {
		return errors.New("ingest: feed already started")
	}
	f.reader = kafka.NewReader(f.cfg)
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	f.logger.Info("schedule feed listening", "topic", f.cfg.Topic, "brokers", f.cfg.Brokers, "group", f.cfg.GroupID)
	go func() {
		defer close(f.done)
		Consume(ctx, f.reader, f.logger, func(_ context.Context, ev models.ScheduleEvent) { handle(ev) })
	}()
	return nil
}

func (f *KafkaFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reader == nil {
		return nil
	}
	f.cancel()
	<-f.done
	err := f.reader.Close()
	f.reader = nil
	return err
}
