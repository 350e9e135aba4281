package config

const (
	EnvPrefix = "PARKEZ"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:parkez.db?cache=shared&_foreign_keys=on"
)

const (
	EnvAppEnv      = "PARKEZ_APP_ENV"
	EnvPort        = "PARKEZ_APP_PORT"
	EnvLogLevel    = "PARKEZ_LOG_LEVEL"
	EnvDBDSN       = "PARKEZ_DB_DSN"
	EnvDBDriver    = "PARKEZ_DB_DRIVER"
	EnvDBHost      = "PARKEZ_DB_HOST"
	EnvDBPort      = "PARKEZ_DB_PORT"
	EnvDBUser      = "PARKEZ_DB_USER"
	EnvDBPassword  = "PARKEZ_DB_PASSWORD"
	EnvDBName      = "PARKEZ_DB_NAME"
	EnvRedisURL    = "PARKEZ_REDIS_URL"
	EnvJWTSecret   = "PARKEZ_JWT_SECRET"
	EnvJWTIssuer   = "PARKEZ_JWT_ISSUER"
	EnvJWTExpMins  = "PARKEZ_JWT_EXPIRATION_MINUTES"
	EnvClaimMax    = "PARKEZ_CLAIM_MAX_ATTEMPTS"
	EnvClaimDelay  = "PARKEZ_CLAIM_BACKOFF"
	EnvCacheTTL    = "PARKEZ_CACHE_TTL"
	EnvCronCutoff  = "PARKEZ_CRON_REMINDER_CUTOFF_DAYS"
	EnvPubSubTopic = "PARKEZ_PUBSUB_DOMAIN_TOPIC"
)
