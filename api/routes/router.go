package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parkez/parkez-backend/api/controllers"
	"github.com/parkez/parkez-backend/api/middleware"
	"github.com/parkez/parkez-backend/pkg/auth/session"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/logger"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
)

// redisStore is the slice of the Redis client the middleware chain uses.
type redisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// Services groups the domain services mounted on the router.
type Services struct {
	Auth      controllers.AuthService
	Lots      controllers.AdminLotService
	Public    controllers.PublicLotService
	Booking   controllers.BookingService
	History   controllers.HistoryService
	Export    controllers.ExportService
	Users     controllers.UserAdminService
	Analytics controllers.AnalyticsService

	// Requests receives per-route samples; nil disables request metrics.
	Requests middleware.RequestObserver
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	store redisStore,
	sessions session.AccessSessionChecker,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, svc.Requests),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.RateLimit.AuthWindow,
		cfg.RateLimit.AuthIPLimit,
		cfg.RateLimit.AuthEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.RateLimit.AuthWindow,
		cfg.RateLimit.AuthIPLimit,
		cfg.RateLimit.AuthEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public/lots", func(r chi.Router) {
		r.Get("/summary", controllers.PublicLotSummaries(svc.Public, logg))
		r.Get("/{lotId}/spots", controllers.PublicLotSpots(svc.Public, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(registerPolicy, store, logg)).Post("/register", controllers.AuthRegister(svc.Auth, logg))
		r.With(middleware.AuthRateLimit(loginPolicy, store, logg)).Post("/login", controllers.AuthLogin(svc.Auth, logg))
		r.With(middleware.Auth(cfg.JWT, sessions, logg)).Post("/logout", controllers.AuthLogout(svc.Auth, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))
		idempotent := middleware.Idempotent(store, cfg.Reservation.IdempotencyTTL, logg)

		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", controllers.MyReservations(svc.History, logg))
			r.With(idempotent).Post("/", controllers.Reserve(svc.Booking, logg))
			r.Get("/export", controllers.ExportMyReservations(svc.Export, logg))
			r.With(idempotent).Post("/{reservationId}/release", controllers.Release(svc.Booking, logg))
		})
		r.Get("/users/{userId}/reservations", controllers.UserReservations(svc.History, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(logg))

			r.Route("/lots", func(r chi.Router) {
				r.Get("/", controllers.AdminListLots(svc.Lots, logg))
				r.Post("/", controllers.AdminCreateLot(svc.Lots, logg))
				r.Get("/{lotId}", controllers.AdminGetLot(svc.Lots, logg))
				r.Patch("/{lotId}", controllers.AdminUpdateLot(svc.Lots, logg))
				r.Delete("/{lotId}", controllers.AdminDeleteLot(svc.Lots, logg))
				r.Get("/{lotId}/spots", controllers.AdminLotSpots(svc.Lots, logg))
				r.Patch("/{lotId}/spots/{spotId}", controllers.AdminRenameSpot(svc.Lots, logg))
			})
			r.Route("/users", func(r chi.Router) {
				r.Get("/", controllers.AdminListUsers(svc.Users, logg))
				r.Get("/{userId}", controllers.AdminGetUser(svc.Users, logg))
				r.Delete("/{userId}", controllers.AdminDeleteUser(svc.Users, logg))
			})
			r.Get("/analytics/summary", controllers.AdminAnalyticsSummary(svc.Analytics, logg))
		})
	})

	return r
}
