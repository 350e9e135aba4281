// Package session tracks live access sessions in Redis so logout can revoke
// a JWT before it expires.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parkez/parkez-backend/pkg/config"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	errBlankAccessID   = errors.New("access id is required")
)

type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	AccessSessionKey(accessID string) string
}

// AccessSessionChecker is the read-only surface the auth middleware needs.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

// Manager keeps one key per issued token, valued with the owning user id
// and expiring together with the token.
type Manager struct {
	store store
	ttl   time.Duration
}

func NewManager(client *pkgredis.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return newManager(client, cfg.SessionTTL())
}

func newManager(s store, ttl time.Duration) (*Manager, error) {
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Manager{store: s, ttl: ttl}, nil
}

// NewAccessID produces the identifier used as the JWT jti and Redis key.
func NewAccessID() string {
	return uuid.NewString()
}

func (m *Manager) key(accessID string) (string, error) {
	accessID = strings.TrimSpace(accessID)
	if accessID == "" {
		return "", errBlankAccessID
	}
	return m.store.AccessSessionKey(accessID), nil
}

func (m *Manager) Start(ctx context.Context, accessID string, userID uuid.UUID) error {
	key, err := m.key(accessID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, userID.String(), m.ttl)
}

// Owner returns the user a live session belongs to, or ErrSessionNotFound.
func (m *Manager) Owner(ctx context.Context, accessID string) (uuid.UUID, error) {
	key, err := m.key(accessID)
	if err != nil {
		return uuid.Nil, err
	}
	raw, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, pkgredis.ErrNil):
		return uuid.Nil, ErrSessionNotFound
	case err != nil:
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	_, err := m.Owner(ctx, accessID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSessionNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Revoke is idempotent; revoking an unknown session succeeds.
func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	key, err := m.key(accessID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}
