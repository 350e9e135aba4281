package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/logger"
)

// ErrNil is returned by Get when the key does not exist.
var ErrNil = redis.Nil

var errNotReady = errors.New("redis client not initialized")

// windowScript increments a counter and starts its window on the first hit.
// PEXPIRE only runs when the key has no TTL, so a counter can never be left
// without one.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if tonumber(ARGV[1]) > 0 and redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Holder-checked lease operations. ARGV[1] is the holder token.
var (
	deleteIfScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	expireIfScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// backend is the subset of *redis.Client the wrapper calls.
type backend interface {
	redis.Scripter
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Close() error
}

// Client is the shared Redis handle for caches, sessions, rate limits,
// idempotency records and cron coordination.
type Client struct {
	rdb backend
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is what the idempotency middleware needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials Redis and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connection established")
	}
	return &Client{rdb: rdb}, nil
}

// optionsFromConfig prefers the URL form. Pool and timeout settings from the
// config fill whatever the URL left unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	opts.DB = orDefault(opts.DB, cfg.DB)
	opts.PoolSize = orDefault(opts.PoolSize, cfg.PoolSize)
	opts.MinIdleConns = orDefault(opts.MinIdleConns, cfg.MinIdleConns)
	opts.DialTimeout = orDefault(opts.DialTimeout, cfg.DialTimeout)
	opts.ReadTimeout = orDefault(opts.ReadTimeout, cfg.ReadTimeout)
	opts.WriteTimeout = orDefault(opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func orDefault[T int | time.Duration](v, fallback T) T {
	if v == 0 {
		return fallback
	}
	return v
}

func (c *Client) conn() (backend, error) {
	if c == nil || c.rdb == nil {
		return nil, errNotReady
	}
	return c.rdb, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, value, ttl).Err()
}

// Get returns the string stored at key, or ErrNil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", err
	}
	return rdb.Get(ctx, key).Result()
}

// SetNX reports whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	return rdb.SetNX(ctx, key, value, ttl).Result()
}

// IncrWithTTL bumps a counter atomically and starts its expiry on first use.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	return windowScript.Run(ctx, rdb, []string{key}, ttl.Milliseconds()).Int64()
}

// FixedWindowAllow counts a hit against scope and reports whether the count
// is still within limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	count, err := c.IncrWithTTL(ctx, c.RateLimitKey(scope), window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// DeleteIfValue removes key only while it still holds value.
func (c *Client) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	n, err := deleteIfScript.Run(ctx, rdb, []string{key}, value).Int64()
	return n == 1, err
}

// ExpireIfValue resets the TTL of key only while it still holds value.
func (c *Client) ExpireIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	n, err := expireIfScript.Run(ctx, rdb, []string{key}, value, ttl.Milliseconds()).Int64()
	return n == 1, err
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	return rdb.Ping(ctx).Err()
}

// Close is a no-op on a nil client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Key layout: parkez:<area>:<parts...>. Blank parts are skipped.
const (
	keyNamespace = "parkez"

	areaIdempotency = "idempotency"
	areaRateLimit   = "rate_limit"
	areaSession     = "session"
	areaCache       = "cache"
	areaCron        = "cron"
)

func key(area string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(area)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return key(areaIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return key(areaRateLimit, scope)
}

func (c *Client) AccessSessionKey(accessID string) string {
	return key(areaSession, "access", accessID)
}

// LotsSummaryKey caches the public lot listing with availability counts.
func LotsSummaryKey() string {
	return key(areaCache, "lots", "summary")
}

func LotSpotsKey(lotID int64) string {
	return key(areaCache, "lot", strconv.FormatInt(lotID, 10), "spots")
}

func UserReservationsKey(userID string) string {
	return key(areaCache, "user", userID, "reservations")
}

func AnalyticsSummaryKey() string {
	return key(areaCache, "analytics", "summary")
}

// CronLockKey guards a cron cycle for the given environment.
func CronLockKey(env string) string {
	return key(areaCron, "lock", env)
}

// ReminderMarkerKey records that reminders went out for day (YYYY-MM-DD).
func ReminderMarkerKey(day string) string {
	return key(areaCron, "reminders", day)
}
