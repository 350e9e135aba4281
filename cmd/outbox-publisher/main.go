package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parkez/parkez-backend/internal/relay"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/instance"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/metrics"
	"github.com/parkez/parkez-backend/pkg/migrate"
	"github.com/parkez/parkez-backend/pkg/outbox"
	"github.com/parkez/parkez-backend/pkg/outbox/registry"
	"github.com/parkez/parkez-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build event registry: %w", err)
	}
	logg.Info(logg.WithField(ctx, "event_types", eventRegistry.EventTypes()), "outbox routes registered")

	reg := prometheus.NewRegistry()
	r, err := relay.New(relay.Params{
		Outbox:   cfg.Outbox,
		Logger:   logg,
		DB:       dbClient,
		Rows:     outbox.NewRepository(dbClient.DB()),
		Registry: eventRegistry,
		Topics:   relay.PubSubTopics(pubsubClient.Publisher),
		Metrics:  metrics.NewRelayMetrics(reg),
		Ready: map[string]func(context.Context) error{
			"database": dbClient.Ping,
			"pubsub":   pubsubClient.Ping,
		},
	})
	if err != nil {
		return fmt.Errorf("create outbox relay: %w", err)
	}

	metricsServer := metrics.Serve(ctx, logg, cfg.App.Port, reg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting outbox publisher")
	return r.Run(ctx)
}
