package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/parkez/parkez-backend/api/responses"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
)

// maxAuthBody bounds how much of a login/register body is buffered to find
// the account name.
const maxAuthBody = 16 << 10

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// AuthRateLimitPolicy throttles one credential endpoint by client address and
// by the account named in the body. A zero limit disables that dimension.
type AuthRateLimitPolicy struct {
	name       string
	window     time.Duration
	perAddress int64
	perAccount int64
}

func NewAuthRateLimitPolicy(name string, window time.Duration, ipLimit, accountLimit int) AuthRateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auth"
	}
	return AuthRateLimitPolicy{
		name:       name,
		window:     window,
		perAddress: int64(max(ipLimit, 0)),
		perAccount: int64(max(accountLimit, 0)),
	}
}

func (p AuthRateLimitPolicy) active() bool {
	return p.window > 0 && (p.perAddress > 0 || p.perAccount > 0)
}

// AuthRateLimit counts attempts in fixed windows. If the counter store is
// unreachable the request goes through; the service-level login limiter and
// password hashing cost still apply.
func AuthRateLimit(policy AuthRateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.active() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.perAddress > 0 {
				if addr := clientIP(r); addr != "" {
					if !policy.admit(ctx, w, store, logg, "addr", addr, policy.perAddress) {
						return
					}
				}
			}

			if policy.perAccount > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxAuthBody+1))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
					return
				}
				if len(body) > maxAuthBody {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				if account := accountName(body); account != "" {
					if !policy.admit(ctx, w, store, logg, "account", fingerprint(account), policy.perAccount) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// admit increments the counter for scope/value and answers 429 once it
// passes limit. It reports whether the request may continue.
func (p AuthRateLimitPolicy) admit(ctx context.Context, w http.ResponseWriter, store rateLimiterStore, logg *logger.Logger, scope, value string, limit int64) bool {
	key := store.RateLimitKey(p.name + ":" + scope + ":" + value)
	count, err := store.IncrWithTTL(ctx, key, p.window)
	if err != nil {
		if logg != nil {
			logg.Warn(logg.WithField(ctx, "policy", p.name), "auth.rate_limit.store_unavailable")
		}
		return true
	}
	if count <= limit {
		return true
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"policy":   p.name,
			"scope":    scope,
			"attempts": count,
			"limit":    limit,
		})
		logg.Warn(logCtx, "auth.rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(p.window.Round(time.Second)/time.Second)))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts, try again later"))
	return false
}

// clientIP prefers the first hop of X-Forwarded-For, as set by the load
// balancer, then X-Real-IP, then the socket peer. Unparseable values are skipped.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// accountName pulls the identifier out of a register (email) or login
// (username or email) body.
func accountName(payload []byte) string {
	var body struct {
		Email string `json:"email"`
		Login string `json:"login"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	name := body.Email
	if name == "" {
		name = body.Login
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// fingerprint keeps raw account names out of Redis keys and logs.
func fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:16])
}
