// Package redis backs storage.NonceStore with Redis so consumed attestation
// nonces are shared by every server instance.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"presale-ledger/internal/storage"
)

// Client wraps go-redis client.
type Client struct {
	*redis.Client
}

// Open creates a new Redis client and pings it to validate the connection.
func Open(ctx context.Context, addr, password string, db int) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty redis addr")
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: c}, nil
}

// NonceKeyPrefix namespaces nonce keys.
const NonceKeyPrefix = "presale:nonce:"

// NonceStore implements storage.NonceStore with SETNX.
type NonceStore struct {
	client *Client
}

// NewNonceStore creates a new NonceStore.
func NewNonceStore(client *Client) *NonceStore {
	return &NonceStore{client: client}
}

// Compile-time interface check.
var _ storage.NonceStore = (*NonceStore)(nil)

// Consume marks key as used for ttl. A ttl <= 0 never expires.
func (s *NonceStore) Consume(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, storage.ErrInvalidInput
	}
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, NonceKeyPrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume nonce: %w", err)
	}
	return ok, nil
}
