package store

import (
	"context"
	"fmt"

	"github.com/layer-3/siwe/core"
	"github.com/redis/go-redis/v9"
)

const (
	privateKeyKey = "siwe:jwt_private_key"
	publicKeyKey  = "siwe:jwt_public_key"
)

// RedisKeyStore keeps the signing keypair in Redis so every instance signs with the same key
type RedisKeyStore struct {
	client *redis.Client
}

// NewRedisKeyStore creates a key store backed by client
func NewRedisKeyStore(client *redis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

func (s *RedisKeyStore) Load(ctx context.Context) ([]byte, []byte, error) {
	vals, err := s.client.MGet(ctx, privateKeyKey, publicKeyKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	priv, ok := vals[0].(string)
	if !ok || priv == "" {
		return nil, nil, core.ErrKeyNotFound
	}
	pub, _ := vals[1].(string)

	return []byte(priv), []byte(pub), nil
}

// Save writes both halves with MSETNX, so nothing is written if either key exists
func (s *RedisKeyStore) Save(ctx context.Context, privatePEM, publicPEM []byte) error {
	ok, err := s.client.MSetNX(ctx, privateKeyKey, privatePEM, publicKeyKey, publicPEM).Result()
	if err != nil {
		return fmt.Errorf("failed to save key pair: %w", err)
	}
	if !ok {
		return core.ErrKeyExists
	}
	return nil
}
