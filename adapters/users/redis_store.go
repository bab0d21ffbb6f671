package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/layer-3/siwe/core"
	"github.com/redis/go-redis/v9"
)

const (
	userPrefix    = "siwe:user:"
	addressPrefix = "siwe:user_address:"
	sequenceKey   = "siwe:user_seq"
)

type userRecord struct {
	ID              int64    `json:"uid"`
	UUID            string   `json:"uuid"`
	Name            string   `json:"name"`
	Mail            string   `json:"mail,omitempty"`
	EthereumAddress string   `json:"ethereum_address,omitempty"`
	Roles           []string `json:"roles"`
	DisplayName     string   `json:"display_name"`
	Active          bool     `json:"active"`
}

// RedisStore keeps users as JSON documents with an address index
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis backed user directory
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) FindByID(ctx context.Context, uid int64) (*core.User, error) {
	data, err := s.client.Get(ctx, userKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return rec.toUser(), nil
}

func (s *RedisStore) FindByAddress(ctx context.Context, address string) (*core.User, error) {
	uid, err := s.client.Get(ctx, addressPrefix+addressKey(address)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address: %w", err)
	}
	return s.FindByID(ctx, uid)
}

// Create stores the user. When the address is already indexed the existing
// account wins and the caller receives its id.
func (s *RedisStore) Create(ctx context.Context, user *core.User) error {
	if user.ID == 0 {
		id, err := s.client.Incr(ctx, sequenceKey).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate user id: %w", err)
		}
		user.ID = id
	}
	if user.UUID == "" {
		user.UUID = uuid.NewString()
	}

	data, err := json.Marshal(fromUser(user))
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.client.Set(ctx, userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}

	if user.EthereumAddress == "" {
		return nil
	}

	ok, err := s.client.SetNX(ctx, addressPrefix+addressKey(user.EthereumAddress), user.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to index address: %w", err)
	}
	if ok {
		return nil
	}

	// Lost the race for this address, drop our record and adopt the winner
	if err := s.client.Del(ctx, userKey(user.ID)).Err(); err != nil {
		return fmt.Errorf("failed to discard duplicate user: %w", err)
	}
	existing, err := s.FindByAddress(ctx, user.EthereumAddress)
	if err != nil {
		return err
	}
	*user = *existing
	return nil
}

func userKey(uid int64) string {
	return userPrefix + strconv.FormatInt(uid, 10)
}

func fromUser(u *core.User) userRecord {
	return userRecord{
		ID:              u.ID,
		UUID:            u.UUID,
		Name:            u.Name,
		Mail:            u.Mail,
		EthereumAddress: u.EthereumAddress,
		Roles:           u.Roles,
		DisplayName:     u.DisplayName,
		Active:          u.Active,
	}
}

func (r userRecord) toUser() *core.User {
	return &core.User{
		ID:              r.ID,
		UUID:            r.UUID,
		Name:            r.Name,
		Mail:            r.Mail,
		EthereumAddress: r.EthereumAddress,
		Roles:           r.Roles,
		DisplayName:     r.DisplayName,
		Active:          r.Active,
	}
}
