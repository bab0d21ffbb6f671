package users

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/layer-3/siwe/core"
)

// MemoryStore is an in-memory user directory
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[int64]*core.User
	byAddress map[string]int64
	seq       int64
}

// NewMemoryStore creates an empty directory
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*core.User),
		byAddress: make(map[string]int64),
	}
}

func (s *MemoryStore) FindByID(ctx context.Context, uid int64) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) FindByAddress(ctx context.Context, address string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.byAddress[addressKey(address)]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return cloneUser(s.users[uid]), nil
}

func (s *MemoryStore) Create(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uid, ok := s.byAddress[addressKey(user.EthereumAddress)]; ok && user.EthereumAddress != "" {
		*user = *cloneUser(s.users[uid])
		return nil
	}

	if user.ID == 0 {
		s.seq++
		user.ID = s.seq
	} else if user.ID > s.seq {
		s.seq = user.ID
	}
	if user.UUID == "" {
		user.UUID = uuid.NewString()
	}

	s.users[user.ID] = cloneUser(user)
	if user.EthereumAddress != "" {
		s.byAddress[addressKey(user.EthereumAddress)] = user.ID
	}
	return nil
}

func addressKey(address string) string {
	return strings.ToLower(address)
}

func cloneUser(u *core.User) *core.User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp
}
