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

	"github.com/parkez/parkez-backend/internal/cron"
	"github.com/parkez/parkez-backend/internal/lots"
	"github.com/parkez/parkez-backend/internal/reservations"
	"github.com/parkez/parkez-backend/internal/spots"
	"github.com/parkez/parkez-backend/internal/users"
	"github.com/parkez/parkez-backend/pkg/cache"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/instance"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/metrics"
	"github.com/parkez/parkez-backend/pkg/migrate"
	"github.com/parkez/parkez-backend/pkg/outbox"
	"github.com/parkez/parkez-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	jobs, err := buildRegistry(cfg, logg, dbClient, redisClient)
	if err != nil {
		return fmt.Errorf("cron jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, redis.CronLockKey(cfg.App.Env), 0)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	reg := prometheus.NewRegistry()
	worker, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	srv := metrics.Serve(ctx, logg, cfg.App.Port, reg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting cron worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func closeQuietly(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.WithoutCancel(ctx), "error closing "+name, err)
	}
}

// buildRegistry wires the sweep, reminder and retention jobs in run order.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	gdb := dbClient.DB()
	spotRepo := spots.NewRepository(gdb)
	ledger := reservations.NewRepository(gdb)
	events := outbox.NewRepository(gdb)

	resizer, err := spots.NewRegistry(spots.RegistryParams{Store: spotRepo, DB: dbClient, Logger: logg})
	if err != nil {
		return nil, err
	}
	lotSvc, err := lots.NewService(lots.ServiceParams{
		DB:      dbClient,
		Repo:    lots.NewRepository(gdb),
		Spots:   spotRepo,
		Resizer: resizer,
		Ledger:  ledger,
		Cache:   cache.New(redisClient, cfg.Reservation.CacheTTL, logg),
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	var jobs []cron.Job
	sweep, err := cron.NewSpotSweepJob(cron.SweepJobParams{
		Logger: logg,
		Spots:  spotRepo,
		Lots:   lotSvc,
		Grace:  cfg.Cron.SweepGrace,
	})
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	jobs = append(jobs, sweep)

	reminder, err := cron.NewReminderJob(cron.ReminderJobParams{
		Logger:       logg,
		DB:           dbClient,
		Users:        users.NewRepository(gdb),
		Reservations: ledger,
		Outbox:       outbox.NewService(events, logg),
		Marker:       redisClient,
		CutoffDays:   cfg.Cron.ReminderCutoffDays,
	})
	if err != nil {
		return nil, fmt.Errorf("reminder: %w", err)
	}
	jobs = append(jobs, reminder)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  events,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention: %w", err)
	}
	jobs = append(jobs, retention)

	return cron.NewRegistry(jobs...), nil
}
