package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// ErrLockLost means the lease expired and another worker may now hold it.
var ErrLockLost = errors.New("cron lock lost")

// Lock makes a cycle exclusive across cron-worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	// Refresh extends a held lock, or returns ErrLockLost.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ExpireIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a TTL lease keyed by a random token. Refresh and Release only
// touch the key while it still carries this instance's token.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration
	token string
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

func (l *RedisLock) Refresh(ctx context.Context) error {
	if l.token == "" {
		return ErrLockLost
	}
	held, err := l.store.ExpireIfValue(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", l.key, err)
	}
	if !held {
		l.token = ""
		return ErrLockLost
	}
	return nil
}

// Release is a no-op when the lease was never held or has already passed
// to another worker.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := l.store.DeleteIfValue(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
