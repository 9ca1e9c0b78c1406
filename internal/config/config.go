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

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// ServerConfig captures all tunable parameters for the dispatch process.
// Values are loaded from environment variables (optionally seeded from a
// .env file) with defaults that run everything in memory.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StoreBackend  string
	PGDSN         string
	RunMigrations bool
	MongoURI      string
	MongoDB       string

	RedisAddr        string
	RedisPassword    string
	SessionKeyPrefix string
	RatingPromptTTL  time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	TelegramToken       string
	TelegramPollTimeout time.Duration

	Compensate bool

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		StoreBackend:        BackendMemory,
		MongoDB:             "taxi",
		SessionKeyPrefix:    "taxi:session",
		KafkaTopic:          "dispatch-events",
		TelegramPollTimeout: 30 * time.Second,
		LogLevel:            "info",
	}
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. A missing default .env is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}
	return godotenv.Load(files...)
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.StoreBackend, "STORE_BACKEND")
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.PGDSN = os.Getenv("PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)
	cfg.MongoURI = strings.TrimSpace(os.Getenv("MONGO_URI"))
	setStringFromEnv(&cfg.MongoDB, "MONGO_DB")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.SessionKeyPrefix, "SESSION_KEY_PREFIX")
	setDurationFromEnv(&cfg.RatingPromptTTL, "RATING_PROMPT_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	setDurationFromEnv(&cfg.TelegramPollTimeout, "TELEGRAM_POLL_TIMEOUT", &errs)

	setBoolFromEnv(&cfg.Compensate, "DISPATCH_COMPENSATE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for STORE_BACKEND=postgres"))
		}
	case BackendMongo:
		if cfg.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for STORE_BACKEND=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend))
	}
	if cfg.RatingPromptTTL < 0 {
		errs = append(errs, fmt.Errorf("RATING_PROMPT_TTL must be >= 0"))
	}
	if cfg.TelegramPollTimeout < time.Second {
		errs = append(errs, fmt.Errorf("TELEGRAM_POLL_TIMEOUT must be at least 1s"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the event consumer that maintains the driver
// board in Redis.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr      string
	RedisPassword  string
	BoardKeyPrefix string

	MetricsAddr string
	LogLevel    string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "dispatch-events",
		KafkaGroup:     "taxi-dispatch-board",
		RedisAddr:      "localhost:6379",
		BoardKeyPrefix: "board",
		MetricsAddr:    ":2112",
		LogLevel:       "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.BoardKeyPrefix, "BOARD_KEY_PREFIX")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	return cfg, errors.Join(errs...)
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

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
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
