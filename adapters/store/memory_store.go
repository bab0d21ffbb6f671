package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/siwe/core"
)

type lookupEntry struct {
	fingerprint core.Fingerprint
	expiresAt   time.Time
}

// MemoryStore is an in-memory NonceStore and RevocationStore.
// Entries expire lazily when they are next touched.
type MemoryStore struct {
	mu sync.Mutex

	nonces  map[string]time.Time
	lookups map[string]lookupEntry
	refresh map[int64]map[string]time.Time

	now func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nonces:  make(map[string]time.Time),
		lookups: make(map[string]lookupEntry),
		refresh: make(map[int64]map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Put(ctx context.Context, nonce string, fp core.Fingerprint, ttl, lookupTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepNonces(now)

	s.nonces[nonceKey(fp, nonce)] = now.Add(ttl)
	s.lookups[nonce] = lookupEntry{fingerprint: fp, expiresAt: now.Add(lookupTTL)}
	return nil
}

func (s *MemoryStore) Consume(ctx context.Context, nonce string, fp core.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	lookup, ok := s.lookups[nonce]
	if !ok || !lookup.expiresAt.After(now) {
		delete(s.lookups, nonce)
		return false, nil
	}
	if lookup.fingerprint != fp {
		return false, nil
	}

	key := nonceKey(fp, nonce)
	expiresAt, ok := s.nonces[key]
	delete(s.lookups, nonce)
	delete(s.nonces, key)

	return ok && expiresAt.After(now), nil
}

// sweepNonces drops expired nonce entries. Caller holds mu.
func (s *MemoryStore) sweepNonces(now time.Time) {
	for key, expiresAt := range s.nonces {
		if !expiresAt.After(now) {
			delete(s.nonces, key)
		}
	}
	for nonce, lookup := range s.lookups {
		if !lookup.expiresAt.After(now) {
			delete(s.lookups, nonce)
		}
	}
}

func (s *MemoryStore) Add(ctx context.Context, uid int64, jti string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tokens, ok := s.refresh[uid]
	if !ok {
		tokens = make(map[string]time.Time)
		s.refresh[uid] = tokens
	}
	for id, exp := range tokens {
		if !exp.After(now) {
			delete(tokens, id)
		}
	}

	tokens[jti] = expiry
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, uid int64, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, ok := s.refresh[uid]
	if !ok {
		return false, nil
	}
	if _, ok := tokens[jti]; !ok {
		return false, nil
	}

	delete(tokens, jti)
	if len(tokens) == 0 {
		delete(s.refresh, uid)
	}
	return true, nil
}

func (s *MemoryStore) RemoveAll(ctx context.Context, uid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refresh, uid)
	return nil
}

func (s *MemoryStore) IsValid(ctx context.Context, uid int64, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.refresh[uid][jti]
	if !ok {
		return false, nil
	}
	return expiry.After(s.now()), nil
}
