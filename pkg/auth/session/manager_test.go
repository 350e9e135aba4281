package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/parkez/parkez-backend/pkg/config"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
)

type mockStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return val, nil
}

func (m *mockStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *mockStore) AccessSessionKey(accessID string) string {
	return "sess:" + accessID
}

func TestManagerStartCheckRevoke(t *testing.T) {
	store := newMockStore()
	manager, err := newManager(store, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()
	userID := uuid.New()
	accessID := NewAccessID()

	if err := manager.Start(ctx, accessID, userID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ttl := store.ttls["sess:"+accessID]; ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	ok, err := manager.HasSession(ctx, accessID)
	if err != nil || !ok {
		t.Fatalf("expected live session, got %v %v", ok, err)
	}
	owner, err := manager.Owner(ctx, accessID)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != userID {
		t.Fatalf("expected owner %s, got %s", userID, owner)
	}

	if err := manager.Revoke(ctx, accessID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err = manager.HasSession(ctx, accessID)
	if err != nil || ok {
		t.Fatalf("expected revoked session, got %v %v", ok, err)
	}
	if _, err := manager.Owner(ctx, accessID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerRejectsBlankAccessID(t *testing.T) {
	store := newMockStore()
	manager, err := newManager(store, time.Minute)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := manager.Start(context.Background(), " ", uuid.New()); err == nil {
		t.Fatal("expected error for blank access id")
	}
	if _, err := manager.HasSession(context.Background(), ""); err == nil {
		t.Fatal("expected error for blank access id")
	}
	if err := manager.Revoke(context.Background(), ""); err == nil {
		t.Fatal("expected error for blank access id")
	}
}

func TestManagerCorruptValueIsAnError(t *testing.T) {
	store := newMockStore()
	manager, err := newManager(store, time.Minute)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	store.data["sess:abc"] = "not-a-uuid"
	if _, err := manager.HasSession(context.Background(), "abc"); err == nil {
		t.Fatal("expected parse error for corrupt session value")
	}
}

func TestNewManagerValidates(t *testing.T) {
	if _, err := NewManager(nil, config.JWTConfig{ExpirationMinutes: 5}); err == nil {
		t.Fatal("expected error without redis client")
	}
	if _, err := newManager(newMockStore(), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
