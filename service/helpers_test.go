package service

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/siwe/adapters/keys"
	"github.com/layer-3/siwe/adapters/siwe"
	"github.com/layer-3/siwe/adapters/store"
	"github.com/layer-3/siwe/adapters/users"
	"github.com/layer-3/siwe/core"
)

const (
	testIssuer   = "https://auth.example.com"
	testAudience = "drupal-siwe"
	testDomain   = "app.example.com"
)

var (
	keyOnce    sync.Once
	sharedKeys *keys.RSAKeyManager
	keyErr     error
)

func testKeyManager(t *testing.T) *keys.RSAKeyManager {
	t.Helper()
	keyOnce.Do(func() {
		var priv []byte
		priv, _, keyErr = keys.GenerateKeyPair(keys.RSABits)
		if keyErr == nil {
			sharedKeys, keyErr = keys.NewRSAKeyManager(priv)
		}
	})
	require.NoError(t, keyErr)
	return sharedKeys
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.RevocationEvent
}

func (p *recordingPublisher) PublishRevocation(_ context.Context, e core.RevocationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Events() []core.RevocationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.RevocationEvent(nil), p.events...)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) RecordAuthEvent(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[operation+"/"+outcome]++
}

func (m *countingMetrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

type failingRevocations struct {
	*store.MemoryStore
	addErr error
}

func (f *failingRevocations) Add(context.Context, int64, string, time.Time) error { return f.addErr }

type fixture struct {
	clock     *testClock
	store     *store.MemoryStore
	users     *users.MemoryStore
	publisher *recordingPublisher
	metrics   *countingMetrics
	nonces    *NonceService
	tokens    *TokenService
	auth      *AuthService
}

func newFixture(t *testing.T, cfg AuthConfig) *fixture {
	t.Helper()

	f := &fixture{
		clock:     &testClock{now: time.Unix(1700000000, 0)},
		users:     users.NewMemoryStore(),
		publisher: &recordingPublisher{},
		metrics:   &countingMetrics{},
	}
	f.store = store.NewMemoryStore(store.WithClock(f.clock.Now))

	f.nonces = NewNonceService(f.store, 300*time.Second, f.metrics, nil)
	f.nonces.now = f.clock.Now

	f.tokens = NewTokenService(testKeyManager(t), f.store, f.users, nil, TokenConfig{
		Audience:   testAudience,
		AccessTTL:  900 * time.Second,
		RefreshTTL: 604800 * time.Second,
	}, WithClock(f.clock.Now), WithPublisher(f.publisher), WithMetrics(f.metrics))

	verifier := siwe.NewVerifier(siwe.Config{AllowedDomains: []string{testDomain}}, nil).WithClock(f.clock.Now)
	f.auth = NewAuthService(f.nonces, verifier, f.users, f.tokens, f.metrics, nil, cfg)
	return f
}

func (f *fixture) createUser(t *testing.T, address string, active bool) *core.User {
	t.Helper()
	u := &core.User{
		Name:            "alice",
		EthereumAddress: address,
		Roles:           []string{"authenticated", "editor"},
		DisplayName:     "Alice",
		Active:          active,
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func siweMessage(address, nonce string, issuedAt time.Time) string {
	return strings.Join([]string{
		testDomain + " wants you to sign in with your Ethereum account:",
		address,
		"",
		"Sign in with Ethereum",
		"",
		"URI: https://" + testDomain,
		"Version: 1",
		"Chain ID: 10",
		"Nonce: " + nonce,
		"Issued At: " + issuedAt.UTC().Format(time.RFC3339),
	}, "\n")
}

func personalSign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}
