package service

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/siwe/core"
)

func TestNonceIssueAndConsumeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	fp := core.NewFingerprint("10.0.0.1", "Mozilla/5.0", "https://app.example.com")

	nonce, err := f.nonces.Issue(ctx, fp)
	require.NoError(t, err)
	assert.Len(t, nonce.Value, 32)
	_, err = hex.DecodeString(nonce.Value)
	require.NoError(t, err)
	assert.Equal(t, fp, nonce.Fingerprint)
	assert.Equal(t, f.clock.Now().Add(300*time.Second), nonce.ExpiresAt())

	ok, err := f.nonces.Consume(ctx, fp, nonce.Value)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.nonces.Consume(ctx, fp, nonce.Value)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.metrics.Count("nonce/success"))
}

func TestNonceIsBoundToFingerprint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	owner := core.NewFingerprint("10.0.0.1", "ua", "")
	stranger := core.NewFingerprint("10.0.0.2", "ua", "")

	nonce, err := f.nonces.Issue(ctx, owner)
	require.NoError(t, err)

	ok, err := f.nonces.Consume(ctx, stranger, nonce.Value)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNonceExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	fp := core.NewFingerprint("", "", "")

	live, err := f.nonces.Issue(ctx, fp)
	require.NoError(t, err)
	stale, err := f.nonces.Issue(ctx, fp)
	require.NoError(t, err)

	f.clock.Advance(299 * time.Second)
	ok, err := f.nonces.Consume(ctx, fp, live.Value)
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(time.Second)
	ok, err = f.nonces.Consume(ctx, fp, stale.Value)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNonceEmptyValue(t *testing.T) {
	f := newFixture(t, AuthConfig{})
	ok, err := f.nonces.Consume(context.Background(), core.NewFingerprint("", "", ""), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNonceConcurrentConsumers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	fp := core.NewFingerprint("10.0.0.1", "ua", "")
	nonce, err := f.nonces.Issue(ctx, fp)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := f.nonces.Consume(ctx, fp, nonce.Value); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
