// Command thumbqd serves the thumbnail job queue over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/api"
	"github.com/Papyszoo/Modelibr-sub004/engine"
	"github.com/Papyszoo/Modelibr-sub004/janitor"
	"github.com/Papyszoo/Modelibr-sub004/store/bun"
	"github.com/Papyszoo/Modelibr-sub004/store/memory"
	"github.com/Papyszoo/Modelibr-sub004/store/postgres"
	"github.com/Papyszoo/Modelibr-sub004/stream"
	"github.com/Papyszoo/Modelibr-sub004/stream/redisrelay"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("thumbqd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := cfg.newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	storer, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storer.Close()

	broker := stream.NewBroker(logger)
	defer broker.Shutdown(context.Background())

	var relay *redisrelay.Relay
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()

		opts := []redisrelay.Option{redisrelay.WithLogger(logger)}
		if cfg.Redis.Channel != "" {
			opts = append(opts, redisrelay.WithChannel(cfg.Redis.Channel))
		}
		relay = redisrelay.New(client, broker, opts...)
		broker.SetRelay(relay)
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("thumbqd: start redis relay: %w", err)
		}
		defer relay.Stop()
		logger.Info("redis relay started", "addr", cfg.Redis.Addr)
	}

	eng, err := engine.New(storer,
		engine.WithConfig(cfg.queueConfig()),
		engine.WithBroker(broker),
		engine.WithLogger(logger))
	if err != nil {
		return err
	}

	jan, err := janitor.New(eng, janitor.WithLogger(logger))
	if err != nil {
		return err
	}
	jan.Start()
	defer jan.Stop()

	server := api.New(eng,
		api.WithAuthenticator(cfg.authenticator(logger)),
		api.WithBroker(broker),
		api.WithRateLimit(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst),
		api.WithLogger(logger))

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Listen, "backend", cfg.Store.Backend)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openStore builds the configured backend and runs migrations for the
// SQL ones.
func openStore(ctx context.Context, cfg serverConfig, logger *slog.Logger) (thumbq.Storer, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("postgres store ready")
		return s, nil
	case "bun":
		s, err := bun.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("bun store ready")
		return s, nil
	default:
		return nil, fmt.Errorf("thumbqd: unknown store backend %q", cfg.Store.Backend)
	}
}
