package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/parkez/parkez-backend/api/controllers"
	"github.com/parkez/parkez-backend/api/routes"
	"github.com/parkez/parkez-backend/internal/analytics"
	"github.com/parkez/parkez-backend/internal/analytics/query"
	"github.com/parkez/parkez-backend/internal/auth"
	"github.com/parkez/parkez-backend/internal/booking"
	"github.com/parkez/parkez-backend/internal/exports"
	"github.com/parkez/parkez-backend/internal/lots"
	"github.com/parkez/parkez-backend/internal/reservations"
	"github.com/parkez/parkez-backend/internal/spots"
	"github.com/parkez/parkez-backend/internal/users"
	"github.com/parkez/parkez-backend/pkg/auth/session"
	"github.com/parkez/parkez-backend/pkg/cache"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/metrics"
	"github.com/parkez/parkez-backend/pkg/migrate"
	"github.com/parkez/parkez-backend/pkg/outbox"
	"github.com/parkez/parkez-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := buildServices(cfg, logg, dbClient, redisClient, sessionManager, reg)
	if err != nil {
		return err
	}

	addr := ":" + cfg.App.Port
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			map[string]controllers.Pinger{"db": dbClient, "redis": redisClient},
			redisClient,
			sessionManager,
			reg,
			services,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logCtx := logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr})
	logg.Info(logCtx, "starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildServices(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	sessionManager *session.Manager,
	reg prometheus.Registerer,
) (routes.Services, error) {
	var out routes.Services

	gdb := dbClient.DB()
	c := cache.New(redisClient, cfg.Reservation.CacheTTL, logg)
	reservationMetrics := metrics.NewReservationMetrics(reg)

	spotRepo := spots.NewRepository(gdb)
	lotRepo := lots.NewRepository(gdb)
	reservationRepo := reservations.NewRepository(gdb)
	userRepo := users.NewRepository(gdb)
	ledger := reservations.NewLedger(reservationRepo, time.Now)

	registry, err := spots.NewRegistry(spots.RegistryParams{
		Store: spotRepo,
		DB:    dbClient,
		Retry: spots.RetryStrategy{
			MaxAttempts: cfg.Reservation.ClaimMaxAttempts,
			Backoff:     spots.ConstantBackoff(cfg.Reservation.ClaimBackoff),
		},
		Metrics: reservationMetrics,
		Logger:  logg,
	})
	if err != nil {
		return out, err
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       userRepo,
		SessionManager: sessionManager,
		Limiter:        redisClient,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return out, err
	}

	lotService, err := lots.NewService(lots.ServiceParams{
		DB:      dbClient,
		Repo:    lotRepo,
		Spots:   spotRepo,
		Resizer: registry,
		Ledger:  reservationRepo,
		Cache:   c,
		Logger:  logg,
	})
	if err != nil {
		return out, err
	}

	bookingService, err := booking.NewService(booking.Params{
		DB:      dbClient,
		Spots:   registry,
		Ledger:  ledger,
		Lots:    lotRepo,
		Outbox:  outbox.NewService(outbox.NewRepository(gdb), logg),
		Cache:   c,
		Metrics: reservationMetrics,
		Logger:  logg,
	})
	if err != nil {
		return out, err
	}

	userService, err := users.NewService(users.ServiceParams{
		DB:           dbClient,
		Repo:         userRepo,
		Reservations: reservationRepo,
		Cache:        c,
		Logger:       logg,
	})
	if err != nil {
		return out, err
	}

	analyticsService, err := analytics.NewService(query.NewRepository(gdb), c, time.Now)
	if err != nil {
		return out, err
	}

	out = routes.Services{
		Auth:      authService,
		Lots:      lotService,
		Public:    lotService,
		Booking:   bookingService,
		History:   reservations.NewHistory(reservationRepo, c),
		Export:    exports.NewService(ledger),
		Users:     userService,
		Analytics: analyticsService,
		Requests:  metrics.NewHTTPMetrics(reg),
	}
	return out, nil
}
