package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/siwe/core"
	"github.com/redis/go-redis/v9"
)

const (
	noncePrefix        = "siwe:nonce:"
	nonceLookupPrefix  = "siwe:nonce_lookup:"
	refreshTokenPrefix = "siwe:refresh_tokens:"
)

func nonceKey(fp core.Fingerprint, nonce string) string {
	return noncePrefix + fp.String() + ":" + nonce
}

func lookupKey(nonce string) string {
	return nonceLookupPrefix + nonce
}

func refreshKey(uid int64) string {
	return refreshTokenPrefix + strconv.FormatInt(uid, 10)
}

// KEYS[1] reverse lookup, KEYS[2] forward entry, ARGV[1] fingerprint
var consumeNonceScript = redis.NewScript(`
local fp = redis.call('GET', KEYS[1])
if not fp or fp ~= ARGV[1] then
	return 0
end
if redis.call('EXISTS', KEYS[2]) == 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
return 1
`)

// KEYS[1] user hash, ARGV[1] jti, ARGV[2] expiry, ARGV[3] now (unix seconds)
var addRefreshScript = redis.NewScript(`
local now = tonumber(ARGV[3])
local latest = ARGV[2]
local entries = redis.call('HGETALL', KEYS[1])
for i = 1, #entries, 2 do
	local exp = tonumber(entries[i + 1])
	if exp == nil or exp <= now then
		redis.call('HDEL', KEYS[1], entries[i])
	elseif exp > tonumber(latest) then
		latest = entries[i + 1]
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('EXPIREAT', KEYS[1], latest)
return 1
`)

// RedisStore is a Redis NonceStore and RevocationStore
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Put(ctx context.Context, nonce string, fp core.Fingerprint, ttl, lookupTTL time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, nonceKey(fp, nonce), s.now().Unix(), ttl)
		pipe.Set(ctx, lookupKey(nonce), fp.String(), lookupTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to store nonce: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, nonce string, fp core.Fingerprint) (bool, error) {
	keys := []string{lookupKey(nonce), nonceKey(fp, nonce)}
	n, err := consumeNonceScript.Run(ctx, s.client, keys, fp.String()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: failed to consume nonce: %w", core.ErrStoreOperationFailed, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Add(ctx context.Context, uid int64, jti string, expiry time.Time) error {
	err := addRefreshScript.Run(ctx, s.client, []string{refreshKey(uid)}, jti, expiry.Unix(), s.now().Unix()).Err()
	if err != nil {
		return fmt.Errorf("%w: failed to record refresh token: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, uid int64, jti string) (bool, error) {
	n, err := s.client.HDel(ctx, refreshKey(uid), jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to remove refresh token: %w", core.ErrStoreOperationFailed, err)
	}
	return n > 0, nil
}

func (s *RedisStore) RemoveAll(ctx context.Context, uid int64) error {
	if err := s.client.Del(ctx, refreshKey(uid)).Err(); err != nil {
		return fmt.Errorf("%w: failed to remove refresh tokens: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *RedisStore) IsValid(ctx context.Context, uid int64, jti string) (bool, error) {
	exp, err := s.client.HGet(ctx, refreshKey(uid), jti).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to check refresh token: %w", core.ErrStoreOperationFailed, err)
	}
	return exp > s.now().Unix(), nil
}
