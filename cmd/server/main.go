package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/move-calendar/internal/calendar"
	"github.com/example/move-calendar/internal/config"
	"github.com/example/move-calendar/internal/dispatch"
	httpapi "github.com/example/move-calendar/internal/http"
	"github.com/example/move-calendar/internal/ingest"
	"github.com/example/move-calendar/internal/logging"
	"github.com/example/move-calendar/internal/provider"
	"github.com/example/move-calendar/internal/schedule"
	"github.com/example/move-calendar/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	schedule storage.ScheduleStore
	charges  storage.ChargeStore
	ready    func(ctx context.Context) error
	close    func() error
}

// openStores picks Postgres, then Redis, then memory. Charges come from
// Postgres when available, otherwise from the configured city table.
func openStores(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (stores, error) {
	mem := storage.NewMemoryStore()
	for city, c := range cfg.CityCharges {
		mem.SetCityCharges(city, c)
	}

	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return stores{}, err
		}
		if cfg.RunMigrations {
			script, err := os.ReadFile(filepath.Join("migrations", "001_create_schedule.sql"))
			if err != nil {
				_ = pg.Close()
				return stores{}, err
			}
			if err := pg.Migrate(ctx, string(script)); err != nil {
				_ = pg.Close()
				return stores{}, err
			}
			logger.Info("migration applied", "file", "001_create_schedule.sql")
		}
		logger.Info("using postgres schedule store")
		return stores{schedule: pg, charges: pg, ready: pg.Ping, close: pg.Close}, nil
	}

	if cfg.RedisAddr != "" {
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		logger.Info("using redis schedule store", "addr", cfg.RedisAddr, "prefix", cfg.RedisKeyPrefix)
		return stores{schedule: rs, charges: mem, ready: rs.Ping, close: rs.Close}, nil
	}

	logger.Warn("no PG_DSN or REDIS_ADDR configured, schedule data lives in memory")
	return stores{schedule: mem, charges: mem, close: func() error { return nil }}, nil
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var feed schedule.Feed
	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		group := cfg.KafkaGroup + "-" + uuid.NewString()[:8]
		feed = ingest.NewKafkaFeed(cfg.KafkaBrokers, cfg.KafkaTopic, group, logger)
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	cache := schedule.NewCache(schedule.StoreFetcher{Store: st.schedule}, feed,
		schedule.WithTTL(cfg.ScheduleCacheTTL),
		schedule.WithFetchTimeout(cfg.ScheduleFetchTimeout),
		schedule.WithLogger(logger),
	)
	if err := cache.Init(ctx); err != nil {
		return err
	}
	defer cache.Shutdown()

	var prov provider.Provider
	if cfg.ProviderURL != "" {
		prov = provider.NewHTTPProvider(cfg.ProviderURL, cfg.ProviderTimeout)
		logger.Info("using remote pricing provider", "url", cfg.ProviderURL)
	} else {
		prov = &provider.StoreProvider{Schedule: cache, Store: st.schedule, Charges: st.charges}
	}

	sessions := calendar.NewRegistry(prov, cfg.SessionIdleTimeout, logger)
	if err := sessions.Attach(cache); err != nil {
		return err
	}
	if err := sessions.StartReaper(cfg.SessionReapSpec); err != nil {
		return err
	}
	defer sessions.Close()

	hub := dispatch.NewHub(logger)
	unsubscribe, err := cache.Subscribe(hub.Publish)
	if err != nil {
		return err
	}
	defer unsubscribe()
	defer hub.Close()

	var events httpapi.EventPublisher
	if producer != nil {
		events = producer
	}
	api := httpapi.NewServer(sessions, cache, st.schedule, events, hub, logger)
	api.Ready = st.ready

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("move-calendar listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// websocket connections are hijacked and not tracked by Shutdown
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
