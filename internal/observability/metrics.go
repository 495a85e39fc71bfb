package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "move_calendar"

var (
	CacheHits           = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "schedule_cache_hits_total", Help: "Schedule cache reads served fresh from memory"})
	CacheMisses         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "schedule_cache_misses_total", Help: "Schedule cache reads that went to the fetcher"})
	CacheStaleFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "schedule_cache_stale_fallbacks_total", Help: "Failed refreshes answered from stale or default entries"})
	ScheduleUpdates     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "schedule_updates_total", Help: "Incoming schedule updates by outcome"},
		[]string{"result"},
	)
	FeedEventsInvalid = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "feed_events_invalid_total", Help: "Push feed events rejected at decode"})

	ProviderFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "provider_fetches_total", Help: "Pricing data provider fetches by result"},
		[]string{"result"},
	)
	ProviderLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "provider_fetch_seconds", Help: "Pricing data provider fetch latency"})
	FetchesSuperseded  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "calendar_fetches_superseded_total", Help: "Month fetches discarded because a newer one completed first"})
	SessionsActive     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "calendar_sessions_active", Help: "Open calendar sessions"})
	WSClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_clients_connected", Help: "Websocket clients streaming schedule updates"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
