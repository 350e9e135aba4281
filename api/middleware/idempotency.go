package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parkez/parkez-backend/api/responses"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	DefaultIdempotencyTTL = 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL = 30 * time.Second
)

// storedResponse is what a key replays. Fingerprint binds it to the original
// method, path and body.
type storedResponse struct {
	Fingerprint string `json:"fp"`
	Status      int    `json:"status"`
	ContentType string `json:"ct,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotent guards a single mutating route. Requests without the header
// run normally. With it, the first non-5xx answer is kept for ttl and
// replayed for repeats from the same user; a repeat with a different body is
// rejected, and a repeat while the first is still running gets a 409.
func Idempotent(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fp := fingerprintRequest(r, body)
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)

			prior, err := loadResponse(ctx, store, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
				return
			}
			if prior != nil {
				if prior.Fingerprint != fp {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request"))
					return
				}
				replay(w, prior)
				return
			}

			lockKey := key + ":inflight"
			acquired, err := store.SetNX(ctx, lockKey, fp, inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !acquired {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
				return
			}
			defer func() {
				if err := store.Del(context.WithoutCancel(ctx), lockKey); err != nil && logg != nil {
					logg.Error(ctx, "idempotency.unlock_failed", err)
				}
			}()

			capture := &bodyCapture{statusRecorder: statusRecorder{ResponseWriter: w}}
			next.ServeHTTP(capture, r)

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				return
			}
			rec := storedResponse{
				Fingerprint: fp,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.buf.Bytes(),
			}
			payload, err := json.Marshal(rec)
			if err == nil {
				_, err = store.SetNX(context.WithoutCancel(ctx), key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "idempotency.store_failed", err)
			}
		})
	}
}

func loadResponse(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec storedResponse
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func replay(w http.ResponseWriter, rec *storedResponse) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	io.WriteString(h, r.Method+" "+r.URL.Path+"\n")
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type bodyCapture struct {
	statusRecorder
	buf bytes.Buffer
}

func (c *bodyCapture) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.statusRecorder.Write(b)
}
