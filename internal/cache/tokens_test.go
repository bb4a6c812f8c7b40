package cache

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory RedisClient for tests
type fakeRedis struct {
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	value, ok := f.data[key]
	if !ok {
		return "", errors.New("key not found")
	}
	return value, nil
}

func (f *fakeRedis) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeRedis) Delete(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func (f *fakeRedis) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeRedis) Close() error {
	return nil
}

func TestTokenStoreConsumeOnce(t *testing.T) {
	store := NewTokenStore(newFakeRedis(), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "activation-key", `{"id":1}`))

	payload, err := store.Consume(ctx, "activation-key")
	require.NoError(t, err)
	require.Equal(t, `{"id":1}`, payload)

	// The first read burns the key
	_, err = store.Consume(ctx, "activation-key")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenStoreUnknownKey(t *testing.T) {
	store := NewTokenStore(newFakeRedis(), time.Minute)

	_, err := store.Consume(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenStoreDefaultTTL(t *testing.T) {
	store := NewTokenStore(newFakeRedis(), 0)
	require.Equal(t, 60*time.Second, store.TTL())

	store = NewTokenStore(newFakeRedis(), 5*time.Minute)
	require.Equal(t, 5*time.Minute, store.TTL())
}

func TestAccountCacheKey(t *testing.T) {
	require.Equal(t, "account:abc123", AccountCacheKey("abc123"))
}
