package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreBackend != BackendMemory || cfg.Compensate || cfg.RatingPromptTTL != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HTTPAddr != ":8080" || cfg.TelegramPollTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("PG_DSN", "postgres://localhost/taxi")
	t.Setenv("MIGRATE", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DISPATCH_COMPENSATE", "true")
	t.Setenv("RATING_PROMPT_TTL", "15m")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreBackend != BackendPostgres || !cfg.RunMigrations || !cfg.Compensate {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.RatingPromptTTL != 15*time.Minute {
		t.Fatalf("ttl = %s", cfg.RatingPromptTTL)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("DISPATCH_COMPENSATE", "maybe")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"MONGO_URI", "HTTP_READ_TIMEOUT", "DISPATCH_COMPENSATE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("KAFKA_TOPIC=from-file\nMONGO_DB=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("MONGO_DB", "")
	os.Unsetenv("MONGO_DB")

	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KafkaTopic != "from-env" || cfg.MongoDB != "fromfile" {
		t.Fatalf("topic=%q db=%q", cfg.KafkaTopic, cfg.MongoDB)
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_GROUP", "board-2")
	t.Setenv("BOARD_KEY_PREFIX", "tb")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KafkaGroup != "board-2" || cfg.BoardKeyPrefix != "tb" || cfg.KafkaTopic != "dispatch-events" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
