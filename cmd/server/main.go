package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/taxi-dispatch/internal/bot"
	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/drivers"
	httpapi "github.com/example/taxi-dispatch/internal/http"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/orders"
	"github.com/example/taxi-dispatch/internal/ratings"
	"github.com/example/taxi-dispatch/internal/session"
	"github.com/example/taxi-dispatch/internal/storage"
)

const migrationFile = "001_create_dispatch.sql"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("taxi-dispatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var sessions session.Store
	if cfg.RedisAddr != "" {
		rs := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionKeyPrefix, cfg.RatingPromptTTL)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rs.Close()
		sessions = rs
		logger.Info("session store", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		sessions = session.NewMemoryStore(cfg.RatingPromptTTL)
		logger.Info("session store", "backend", "memory")
	}

	var events ingest.Publisher = ingest.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		events = kp
		logger.Info("event publisher", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	ws := dispatch.NewWSRegistry(logger)
	router := &dispatch.Router{WS: ws}
	var tg *dispatch.Telegram
	if cfg.TelegramToken != "" {
		if tg, err = dispatch.NewTelegram(cfg.TelegramToken, cfg.TelegramPollTimeout, logger); err != nil {
			return err
		}
		router.Primary = tg
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, only WebSocket drivers can connect")
	}

	drv := drivers.NewService(store, events, logger)
	rat := ratings.NewService(store, events, logger)
	ord := orders.NewService(store, drv, rat, sessions, router, events, orders.Options{Compensate: cfg.Compensate}, logger)
	b := bot.New(sessions, drv, ord, router, router, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Drivers: drv,
		Orders:  ord,
		Ratings: rat,
		Store:   store,
		WS:      ws,
		Chat:    b,
	}, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("taxi-dispatch listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "compensate", cfg.Compensate)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if tg != nil {
		go func() {
			if err := tg.Run(ctx, b); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			script, err := os.ReadFile(filepath.Join("migrations", migrationFile))
			if err != nil {
				ps.Close()
				return nil, fmt.Errorf("read migration: %w", err)
			}
			if err := ps.Migrate(ctx, string(script)); err != nil {
				ps.Close()
				return nil, err
			}
			logger.Info("migration applied", "file", migrationFile)
		}
		return ps, nil
	case config.BackendMongo:
		return storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
	default:
		logger.Warn("using in-memory store, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
}
