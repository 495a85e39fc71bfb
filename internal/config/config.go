package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/move-calendar/internal/models"
)

// ServerConfig captures all tunable parameters for the calendar API process.
// Defaults come first, then an optional YAML file named by CONFIG_FILE, then
// environment variables, so the binary runs locally without any setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN string

	// ProviderURL points at a remote pricing data provider. When empty the
	// server builds month data from its own schedule store.
	ProviderURL     string
	ProviderTimeout time.Duration

	ScheduleCacheTTL     time.Duration
	ScheduleFetchTimeout time.Duration
	SessionIdleTimeout   time.Duration
	SessionReapSpec      string

	// CityCharges seeds the in-memory charge table when no database is configured.
	CityCharges map[string]models.CityCharges

	LogLevel      string
	LogFormat     string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		RedisKeyPrefix:       "schedule",
		KafkaTopic:           "schedule-updates",
		KafkaGroup:           "move-calendar-api",
		ProviderTimeout:      3 * time.Second,
		ScheduleCacheTTL:     60 * time.Second,
		ScheduleFetchTimeout: 5 * time.Second,
		SessionIdleTimeout:   30 * time.Minute,
		SessionReapSpec:      "@every 5m",
		CityCharges:          map[string]models.CityCharges{},
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// fileConfig mirrors the subset of ServerConfig that may live in YAML.
type fileConfig struct {
	HTTPAddr             string                        `yaml:"http_addr"`
	RedisAddr            string                        `yaml:"redis_addr"`
	RedisKeyPrefix       string                        `yaml:"redis_key_prefix"`
	KafkaBrokers         []string                      `yaml:"kafka_brokers"`
	KafkaTopic           string                        `yaml:"kafka_topic"`
	KafkaGroup           string                        `yaml:"kafka_group"`
	ProviderURL          string                        `yaml:"provider_url"`
	ProviderTimeout      string                        `yaml:"provider_timeout"`
	ScheduleCacheTTL     string                        `yaml:"schedule_cache_ttl"`
	ScheduleFetchTimeout string                        `yaml:"schedule_fetch_timeout"`
	SessionIdleTimeout   string                        `yaml:"session_idle_timeout"`
	SessionReapSpec      string                        `yaml:"session_reap_spec"`
	CityCharges          map[string]models.CityCharges `yaml:"city_charges"`
	LogLevel             string                        `yaml:"log_level"`
	LogFormat            string                        `yaml:"log_format"`
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setIntFromEnv(&cfg.RedisDB, "REDIS_DB", &errs)
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")

	setStringFromEnv(&cfg.ProviderURL, "PROVIDER_URL")
	setDurationFromEnv(&cfg.ProviderTimeout, "PROVIDER_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.ScheduleCacheTTL, "SCHEDULE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.ScheduleFetchTimeout, "SCHEDULE_FETCH_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT", &errs)
	setStringFromEnv(&cfg.SessionReapSpec, "SESSION_REAP_SPEC")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.LogFormat, "LOG_FORMAT")

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.ScheduleCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULE_CACHE_TTL must be > 0"))
	}
	if cfg.SessionIdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func applyFile(cfg *ServerConfig, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	var errs []error
	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.RedisKeyPrefix, fc.RedisKeyPrefix)
	if len(fc.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fc.KafkaBrokers
	}
	setString(&cfg.KafkaTopic, fc.KafkaTopic)
	setString(&cfg.KafkaGroup, fc.KafkaGroup)
	setString(&cfg.ProviderURL, fc.ProviderURL)
	setDuration(&cfg.ProviderTimeout, "provider_timeout", fc.ProviderTimeout, &errs)
	setDuration(&cfg.ScheduleCacheTTL, "schedule_cache_ttl", fc.ScheduleCacheTTL, &errs)
	setDuration(&cfg.ScheduleFetchTimeout, "schedule_fetch_timeout", fc.ScheduleFetchTimeout, &errs)
	setDuration(&cfg.SessionIdleTimeout, "session_idle_timeout", fc.SessionIdleTimeout, &errs)
	setString(&cfg.SessionReapSpec, fc.SessionReapSpec)
	for city, c := range fc.CityCharges {
		cfg.CityCharges[city] = c
	}
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	return errors.Join(errs...)
}

// ConsumerConfig drives cmd/consumer, which copies push feed events into Redis.
type ConsumerConfig struct {
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	MetricsAddr    string
	LogLevel       string
	LogFormat      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "schedule-updates",
		KafkaGroup:     "move-calendar-consumer",
		RedisAddr:      "localhost:6379",
		RedisKeyPrefix: "schedule",
		MetricsAddr:    ":2112",
		LogLevel:       "info",
		LogFormat:      "json",
	}
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	var errs []error
	setIntFromEnv(&cfg.RedisDB, "REDIS_DB", &errs)
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	setStringFromEnv(&cfg.LogFormat, "LOG_FORMAT")

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	setDuration(target, key, os.Getenv(key), errs)
}

func setDuration(target *time.Duration, key, v string, errs *[]error) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*target = d
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	setString(target, os.Getenv(key))
}

func setString(target *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
