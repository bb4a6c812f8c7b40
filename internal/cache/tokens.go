package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrTokenExpired is the single error class for single-use keys that are
// missing, expired, or already consumed. Callers get no distinction between
// "never existed" and "used before"; both read as gone.
var ErrTokenExpired = errors.New("token expired or invalid")

// TokenStore holds short-lived single-use keys. A key is deleted on its
// first successful read, so a second read fails with ErrTokenExpired.
type TokenStore struct {
	client RedisClient
	ttl    time.Duration
}

// NewTokenStore creates a token store with the given key lifetime
func NewTokenStore(client RedisClient, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &TokenStore{client: client, ttl: ttl}
}

// Store saves a payload under a single-use key
func (t *TokenStore) Store(ctx context.Context, key, payload string) error {
	if err := t.client.Set(ctx, key, payload, t.ttl); err != nil {
		return errors.Wrap(err, "failed to store single-use key")
	}
	return nil
}

// Consume reads and deletes a single-use key in one pass
func (t *TokenStore) Consume(ctx context.Context, key string) (string, error) {
	payload, err := t.client.Get(ctx, key)
	if err != nil {
		return "", ErrTokenExpired
	}

	if err := t.client.Delete(ctx, key); err != nil {
		return "", errors.Wrap(err, "failed to delete single-use key")
	}

	return payload, nil
}

// TTL returns the configured key lifetime
func (t *TokenStore) TTL() time.Duration {
	return t.ttl
}
