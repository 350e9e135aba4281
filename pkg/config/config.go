package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Config is the full process configuration, read once from PARKEZ_* variables.
type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
	RateLimit    RateLimitConfig
	Reservation  ReservationConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

// Load reads the environment, fills a DSN from the split PARKEZ_DB_* parts
// when needed, and rejects values no service can run with.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive(EnvJWTExpMins, int64(c.JWT.ExpirationMinutes))
	positive(EnvClaimMax, int64(c.Reservation.ClaimMaxAttempts))
	positive(EnvCronCutoff, int64(c.Cron.ReminderCutoffDays))
	positive("PARKEZ_CRON_INTERVAL", int64(c.Cron.Interval))
	if c.Reservation.ClaimBackoff < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must not be negative", EnvClaimDelay))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"PARKEZ_APP_ENV" required:"true"`
	Port         string `envconfig:"PARKEZ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PARKEZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PARKEZ_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"PARKEZ_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"PARKEZ_SERVICE_KIND" default:"api"`
}

// DBConfig accepts either a full DSN or the split host/user/name parts.
type DBConfig struct {
	DSN    string `envconfig:"PARKEZ_DB_DSN"`
	Driver string `envconfig:"PARKEZ_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"PARKEZ_DB_HOST"`
	Port     int    `envconfig:"PARKEZ_DB_PORT" default:"5432"`
	User     string `envconfig:"PARKEZ_DB_USER"`
	Password string `envconfig:"PARKEZ_DB_PASSWORD"`
	Name     string `envconfig:"PARKEZ_DB_NAME"`
	SSLMode  string `envconfig:"PARKEZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PARKEZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PARKEZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PARKEZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PARKEZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite engine.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

func (db *DBConfig) ensureDSN() error {
	switch {
	case db.DSN != "":
		return nil
	case db.IsSQLite():
		db.DSN = defaultSQLiteDSN
		return nil
	}

	var missing []string
	for env, value := range map[string]string{EnvDBHost: db.Host, EnvDBUser: db.User, EnvDBName: db.Name} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.New("either " + EnvDBDSN + " or " + strings.Join(missing, ", ") + " are required")
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.User(db.User),
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   db.Name,
	}
	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"PARKEZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PARKEZ_REDIS_ADDR"`
	Password     string        `envconfig:"PARKEZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PARKEZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PARKEZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PARKEZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PARKEZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PARKEZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PARKEZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PARKEZ_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PARKEZ_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PARKEZ_JWT_EXPIRATION_MINUTES" required:"true"`
}

// SessionTTL returns how long an access session stays valid in Redis.
func (j JWTConfig) SessionTTL() time.Duration {
	return time.Duration(max(j.ExpirationMinutes, 0)) * time.Minute
}

// PasswordConfig tunes argon2id; changing it rehashes users on next login.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"PARKEZ_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"PARKEZ_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"PARKEZ_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"PARKEZ_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"PARKEZ_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PARKEZ_AUTO_MIGRATE" default:"false"`
}

// RateLimitConfig throttles the auth endpoints per client IP and per email.
type RateLimitConfig struct {
	AuthWindow     time.Duration `envconfig:"PARKEZ_AUTH_RATE_WINDOW" default:"15m"`
	AuthIPLimit    int           `envconfig:"PARKEZ_AUTH_RATE_IP_LIMIT" default:"50"`
	AuthEmailLimit int           `envconfig:"PARKEZ_AUTH_RATE_EMAIL_LIMIT" default:"5"`
}

type ReservationConfig struct {
	ClaimMaxAttempts int           `envconfig:"PARKEZ_CLAIM_MAX_ATTEMPTS" default:"3"`
	ClaimBackoff     time.Duration `envconfig:"PARKEZ_CLAIM_BACKOFF" default:"50ms"`
	CacheTTL         time.Duration `envconfig:"PARKEZ_CACHE_TTL" default:"30s"`
	IdempotencyTTL   time.Duration `envconfig:"PARKEZ_IDEMPOTENCY_TTL" default:"24h"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"PARKEZ_CRON_INTERVAL" default:"5m"`
	SweepGrace         time.Duration `envconfig:"PARKEZ_CRON_SWEEP_GRACE" default:"10m"`
	ReminderCutoffDays int           `envconfig:"PARKEZ_CRON_REMINDER_CUTOFF_DAYS" default:"7"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PARKEZ_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"PARKEZ_PUBSUB_DOMAIN_TOPIC" default:"parkez-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PARKEZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PARKEZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PARKEZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
}
