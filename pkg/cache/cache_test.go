package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
	failDel error
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if m.failGet != nil {
		return "", m.failGet
	}
	v, ok := m.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	if m.failDel != nil {
		return m.failDel
	}
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

type summary struct {
	Total int `json:"total"`
}

func TestRememberLoadsOnceThenServesFromCache(t *testing.T) {
	store := newMemoryStore()
	c := New(store, 30*time.Second, nil)
	calls := 0
	load := func(context.Context) (summary, error) {
		calls++
		return summary{Total: 5}, nil
	}

	first, err := Remember(context.Background(), c, "k", load)
	require.NoError(t, err)
	second, err := Remember(context.Background(), c, "k", load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, 30*time.Second, store.ttls["k"])
}

func TestRememberPropagatesLoadError(t *testing.T) {
	c := New(newMemoryStore(), time.Second, nil)
	_, err := Remember(context.Background(), c, "k", func(context.Context) (summary, error) {
		return summary{}, errors.New("db down")
	})
	require.EqualError(t, err, "db down")
}

func TestStoreErrorsDegradeToMiss(t *testing.T) {
	store := newMemoryStore()
	store.failGet = errors.New("connection refused")
	c := New(store, time.Second, nil)

	var dest summary
	assert.False(t, c.GetJSON(context.Background(), "k", &dest))

	store.failDel = errors.New("connection refused")
	c.Invalidate(context.Background(), "k")
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	var dest summary
	assert.False(t, c.GetJSON(context.Background(), "k", &dest))
	c.SetJSON(context.Background(), "k", summary{Total: 1})
	c.Invalidate(context.Background(), "k")

	got, err := Remember(context.Background(), c, "k", func(context.Context) (summary, error) {
		return summary{Total: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Total)
}

func TestInvalidateDeletesKeys(t *testing.T) {
	store := newMemoryStore()
	c := New(store, time.Second, nil)
	c.SetJSON(context.Background(), "a", 1)
	c.SetJSON(context.Background(), "b", 2)

	c.Invalidate(context.Background(), "a", "b")
	assert.Empty(t, store.data)
	assert.Equal(t, []string{"a", "b"}, store.deleted)
}
