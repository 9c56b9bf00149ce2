package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/nearby/internal/config"
	httpapi "github.com/example/nearby/internal/http"
	"github.com/example/nearby/internal/ingest"
	"github.com/example/nearby/internal/logging"
	"github.com/example/nearby/internal/models"
	"github.com/example/nearby/internal/nearby"
	"github.com/example/nearby/internal/storage"
)

// eventPublisher is the position event sink; Close flushes buffered events.
type eventPublisher interface {
	nearby.Publisher
	Close() error
}

var newPublisher = func(brokers []string, topic string) eventPublisher {
	return ingest.NewKafkaProducer(brokers, topic)
}

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is done or the listener fails. Store and publisher
// are closed before it returns in both cases.
func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer closeStore()

	opts := nearby.Options{Limit: cfg.RankLimit, StaleAfter: cfg.RankStaleAfter}
	if len(cfg.KafkaBrokers) > 0 {
		pub := newPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("flush position events", "error", err)
			}
		}()
		opts.Publisher = pub
		logger.Info("publishing position events", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	svc := nearby.NewService(store, logger, opts)
	handler := httpapi.NewServer(svc, logger, httpapi.Options{
		RequireCoords: cfg.RequireCoords,
		DefaultCoord:  models.Coord{Lat: cfg.DefaultLat, Lng: cfg.DefaultLng},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("nearby listening", "addr", cfg.HTTPAddr, "backend", cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	}
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.PositionStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
			logger.Info("migration applied")
		}
		return pg, func() { _ = pg.Close() }, nil
	case config.BackendRedis:
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix)
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}
}
