package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StoreBackend string

	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	RankLimit      int
	RankStaleAfter time.Duration

	// RequireCoords rejects /users/close requests without lat/lng instead
	// of falling back to DefaultLat/DefaultLng.
	RequireCoords bool
	DefaultLat    float64
	DefaultLng    float64

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisKeyPrefix:  "nearby:",
		KafkaTopic:      "user-positions",
		RankLimit:       10,
		DefaultLat:      10.0,
		DefaultLng:      1.0,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	_ = godotenv.Load()

	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.RankLimit, "RANK_LIMIT", &errs)
	setDurationFromEnv(&cfg.RankStaleAfter, "RANK_STALE_AFTER", &errs)

	setBoolFromEnv(&cfg.RequireCoords, "CLOSE_REQUIRE_COORDS", &errs)
	setFloatFromEnv(&cfg.DefaultLat, "DEFAULT_LAT", &errs)
	setFloatFromEnv(&cfg.DefaultLng, "DEFAULT_LNG", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = inferBackend(cfg)
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.PGDSN == "" {
			errs = append(errs, fmt.Errorf("STORE_BACKEND=postgres requires PG_DSN"))
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("STORE_BACKEND=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend))
	}

	if cfg.RankLimit <= 0 {
		errs = append(errs, fmt.Errorf("RANK_LIMIT must be > 0"))
	}
	if cfg.RankStaleAfter < 0 {
		errs = append(errs, fmt.Errorf("RANK_STALE_AFTER must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func inferBackend(cfg ServerConfig) string {
	switch {
	case cfg.PGDSN != "":
		return BackendPostgres
	case cfg.RedisAddr != "":
		return BackendRedis
	default:
		return BackendMemory
	}
}

// Location sources for the polling client.
const (
	SourceStatic = "static"
	SourceNMEA   = "nmea"
	SourceGoogle = "google"
)

// ClientConfig configures the polling client binary.
type ClientConfig struct {
	ServerURL      string
	Name           string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	LocateTimeout  time.Duration

	LocationSource string
	StaticLat      float64
	StaticLng      float64
	NMEAPort       string
	NMEABaud       int
	GoogleAPIKey   string

	LogLevel string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:      "http://localhost:8080",
		PollInterval:   20 * time.Second,
		RequestTimeout: 5 * time.Second,
		LocateTimeout:  10 * time.Second,
		LocationSource: SourceStatic,
		NMEAPort:       "/dev/ttyUSB0",
		NMEABaud:       9600,
		LogLevel:       "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	_ = godotenv.Load()

	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.ServerURL, "NEARBY_SERVER_URL")
	cfg.Name = strings.TrimSpace(os.Getenv("NEARBY_NAME"))
	setDurationFromEnv(&cfg.PollInterval, "NEARBY_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.RequestTimeout, "NEARBY_REQUEST_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.LocateTimeout, "NEARBY_LOCATE_TIMEOUT", &errs)

	if v := strings.TrimSpace(os.Getenv("NEARBY_LOCATION_SOURCE")); v != "" {
		cfg.LocationSource = strings.ToLower(v)
	}
	setFloatFromEnv(&cfg.StaticLat, "NEARBY_STATIC_LAT", &errs)
	setFloatFromEnv(&cfg.StaticLng, "NEARBY_STATIC_LNG", &errs)
	setStringFromEnv(&cfg.NMEAPort, "NEARBY_NMEA_PORT")
	setIntFromEnv(&cfg.NMEABaud, "NEARBY_NMEA_BAUD", &errs)
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_POLL_INTERVAL must be > 0"))
	}
	switch cfg.LocationSource {
	case SourceStatic, SourceNMEA:
	case SourceGoogle:
		if cfg.GoogleAPIKey == "" {
			errs = append(errs, fmt.Errorf("NEARBY_LOCATION_SOURCE=google requires GOOGLE_MAPS_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NEARBY_LOCATION_SOURCE %q", cfg.LocationSource))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the event consumer that mirrors position
// events into Redis.
type ConsumerConfig struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	_ = godotenv.Load()

	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "user-positions",
		KafkaGroup:   "nearby-consumer",
		RedisAddr:    "localhost:6379",
		RedisPrefix:  "nearby:",
		LogLevel:     "info",
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPrefix, "REDIS_KEY_PREFIX")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS has no usable entries")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
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

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
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
