package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/move-calendar/internal/config"
	"github.com/example/move-calendar/internal/ingest"
	"github.com/example/move-calendar/internal/logging"
	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/storage"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_schedule_events_consumed_total",
		Help: "Total schedule events consumed",
	})
	storeUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_store_updates_total",
		Help: "Schedule store writes by result",
	}, []string{"result"})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_errors_total",
		Help: "Total schedule store write failures after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, storeUpdates, storeErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = store.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	ingest.Consume(ctx, r, logger, func(ctx context.Context, ev models.ScheduleEvent) {
		handleEvent(ctx, store, logger, ev)
	})
	logger.Info("shutting down consumer")
}

func handleEvent(ctx context.Context, w EntryWriter, logger *slog.Logger, ev models.ScheduleEvent) {
	eventsConsumed.Inc()
	applied, err := putEntryWithRetry(ctx, w, ev, 3, 200*time.Millisecond)
	if err != nil {
		storeErrors.Inc()
		logger.Error("schedule store update failed", "city", ev.City, "date", ev.Date, "version", ev.Version, "error", err)
		return
	}
	if applied {
		storeUpdates.WithLabelValues("applied").Inc()
		return
	}
	storeUpdates.WithLabelValues("stale").Inc()
	logger.Debug("stale schedule event skipped", "city", ev.City, "date", ev.Date, "version", ev.Version)
}

// EntryWriter is the subset of the schedule store the consumer writes to.
type EntryWriter interface {
	PutEntry(ctx context.Context, city, day string, e models.ScheduleEntry) (bool, error)
}

// putEntryWithRetry retries failed writes with doubling delay. A stale
// version is not an error and is never retried.
func putEntryWithRetry(ctx context.Context, w EntryWriter, ev models.ScheduleEvent, attempts int, delay time.Duration) (bool, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var applied bool
		applied, err = w.PutEntry(ctx, ev.City, ev.Date, ev.Entry())
		if err == nil {
			return applied, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return false, err
}
