package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total dispatch events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total undecodable messages received",
	})
	msgsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_skipped_total",
		Help: "Total events that do not touch the board",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful board updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total board updates abandoned after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, msgsSkipped, redisUpdates, redisErrors)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel).With("component", "consumer")

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	board := &redisAdapter{c: rc}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, board, cfg.BoardKeyPrefix, logger)
}

// messageReader is the part of kafka.Reader the loop needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, board BoardUpdater, prefix string, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if sleepCtx(ctx, backoff) != nil {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second
		msgsConsumed.Inc()

		var ev models.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		writes := boardWrites(prefix, ev)
		if len(writes) == 0 {
			msgsSkipped.Inc()
			continue
		}
		if err := updateBoardWithRetry(ctx, board, writes, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("board update failed", "event_id", ev.ID, "type", ev.Type, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// BoardUpdater is the subset of redis operations the board needs.
type BoardUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

type boardWrite struct {
	key    string
	values map[string]interface{}
}

// boardWrites projects an event onto board hashes:
// {prefix}:driver:{id} and {prefix}:order:{id}.
func boardWrites(prefix string, ev models.Event) []boardWrite {
	updated := ev.OccurredAt.UTC().Format(time.RFC3339)
	switch ev.Type {
	case models.EventDriverStatus:
		if ev.DriverID == "" {
			return nil
		}
		return []boardWrite{{
			key:    prefix + ":driver:" + ev.DriverID,
			values: map[string]interface{}{"status": ev.Status, "order_id": ev.OrderID, "updated": updated},
		}}
	case models.EventOrderAccepted, models.EventOrderFinished, models.EventOrderCanceled, models.EventOrderReleased:
		if ev.OrderID == "" {
			return nil
		}
		return []boardWrite{{
			key:    prefix + ":order:" + ev.OrderID,
			values: map[string]interface{}{"status": ev.Status, "driver_id": ev.DriverID, "updated": updated},
		}}
	case models.EventRatingRecorded:
		if ev.DriverID == "" {
			return nil
		}
		return []boardWrite{{
			key:    prefix + ":driver:" + ev.DriverID,
			values: map[string]interface{}{"last_rating": ev.Score, "updated": updated},
		}}
	}
	return nil
}

// updateBoardWithRetry applies writes in order, retrying the failing one with
// exponential backoff.
func updateBoardWithRetry(ctx context.Context, u BoardUpdater, writes []boardWrite, attempts int, delay time.Duration) error {
	for _, w := range writes {
		d := delay
		for i := 0; ; i++ {
			err := u.HSet(ctx, w.key, w.values)
			if err == nil {
				break
			}
			if i == attempts-1 {
				return fmt.Errorf("hset %s: %w", w.key, err)
			}
			if err := sleepCtx(ctx, d); err != nil {
				return err
			}
			d *= 2
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

