package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/siwe/adapters/keys"
	"github.com/layer-3/siwe/adapters/store"
	"github.com/layer-3/siwe/core"
)

const walletAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

func issuePair(t *testing.T, f *fixture, user *core.User) core.TokenPair {
	t.Helper()
	pair, err := f.tokens.Issue(context.Background(), IssueParams{
		User:   user,
		Issuer: testIssuer,
		Extras: core.AccessExtras{SiweDomain: testDomain, ChainID: 10},
	})
	require.NoError(t, err)
	return pair
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	user := f.createUser(t, walletAddress, true)

	pair := issuePair(t, f, user)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, int64(604800), pair.RefreshExpiresIn)

	claims, err := f.tokens.Validate(ctx, pair.AccessToken, core.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, core.TokenTypeAccess, claims.Type)
	assert.Equal(t, user.ID, claims.UID)
	assert.Equal(t, "1", claims.Subject)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{testAudience}, claims.Audience)
	assert.Equal(t, user.Roles, claims.Roles)
	assert.Equal(t, walletAddress, claims.Address)
	assert.Equal(t, testDomain, claims.SiweDomain)
	assert.Equal(t, int64(10), claims.ChainID)
	assert.Len(t, claims.ID, 32)
	assert.Equal(t, f.clock.Now().Add(900*time.Second).Unix(), claims.ExpiresAt.Unix())

	refresh, err := f.tokens.Validate(ctx, pair.RefreshToken, core.TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, core.TokenTypeRefresh, refresh.Type)
	assert.Empty(t, refresh.Roles)
	assert.Empty(t, refresh.SiweDomain)
	assert.NotEqual(t, claims.ID, refresh.ID)

	valid, err := f.store.IsValid(ctx, user.ID, refresh.ID)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, 1, f.metrics.Count("issue/success"))
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	pair := issuePair(t, f, f.createUser(t, walletAddress, true))

	_, err := f.tokens.Validate(ctx, pair.AccessToken, core.TokenTypeRefresh)
	assert.ErrorIs(t, err, core.ErrTokenTypeMismatch)

	_, err = f.tokens.Validate(ctx, pair.RefreshToken, core.TokenTypeAccess)
	assert.ErrorIs(t, err, core.ErrTokenTypeMismatch)

	_, err = f.tokens.Refresh(ctx, pair.AccessToken, testIssuer)
	assert.ErrorIs(t, err, core.ErrTokenTypeMismatch)

	for _, token := range []string{pair.AccessToken, pair.RefreshToken} {
		_, err := f.tokens.Validate(ctx, token, core.TokenTypeAny)
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, f.metrics.Count("validate/type_mismatch")+f.metrics.Count("refresh/type_mismatch"))
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	pair := issuePair(t, f, f.createUser(t, walletAddress, true))

	f.clock.Advance(899 * time.Second)
	_, err := f.tokens.Validate(ctx, pair.AccessToken, core.TokenTypeAccess)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	_, err = f.tokens.Validate(ctx, pair.AccessToken, core.TokenTypeAccess)
	assert.ErrorIs(t, err, core.ErrTokenExpired)

	f.clock.Advance(604800*time.Second - 900*time.Second)
	_, err = f.tokens.Validate(ctx, pair.RefreshToken, core.TokenTypeRefresh)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
	assert.Equal(t, 2, f.metrics.Count("validate/expired"))
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	user := f.createUser(t, walletAddress, true)
	first := issuePair(t, f, user)
	old, err := f.tokens.Validate(ctx, first.RefreshToken, core.TokenTypeRefresh)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.tokens.Refresh(ctx, first.RefreshToken, testIssuer)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.tokens.Refresh(ctx, first.RefreshToken, testIssuer)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)

	claims, err := f.tokens.Validate(ctx, second.AccessToken, core.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, user.Roles, claims.Roles)

	_, err = f.tokens.Refresh(ctx, second.RefreshToken, "")
	require.NoError(t, err)

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, core.RevocationRotated, events[0].Reason)
	assert.Equal(t, old.ID, events[0].TokenID)
	assert.Equal(t, user.ID, events[0].UserID)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	user := f.createUser(t, walletAddress, true)
	pair := issuePair(t, f, user)

	const attempts = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []core.TokenPair
		losers  []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := f.tokens.Refresh(ctx, pair.RefreshToken, testIssuer)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				losers = append(losers, err)
				return
			}
			winners = append(winners, next)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	for _, err := range losers {
		assert.ErrorIs(t, err, core.ErrTokenRevoked)
	}

	// Only the winner's refresh token is still honorable
	_, err := f.tokens.Validate(ctx, winners[0].RefreshToken, core.TokenTypeRefresh)
	require.NoError(t, err)
	assert.Len(t, f.publisher.Events(), 1)
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	user := f.createUser(t, walletAddress, true)
	a := issuePair(t, f, user)
	b := issuePair(t, f, user)

	require.NoError(t, f.tokens.RevokeAll(ctx, user.ID))

	for _, pair := range []core.TokenPair{a, b} {
		_, err := f.tokens.Refresh(ctx, pair.RefreshToken, testIssuer)
		assert.ErrorIs(t, err, core.ErrTokenRevoked)

		// Access tokens stay valid until they expire
		_, err = f.tokens.Validate(ctx, pair.AccessToken, core.TokenTypeAccess)
		assert.NoError(t, err)
	}

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, core.RevocationLogoutAll, events[0].Reason)
	assert.Empty(t, events[0].TokenID)
}

func TestForeignSignatureDoesNotMutateState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	user := f.createUser(t, walletAddress, true)
	pair := issuePair(t, f, user)
	legit, err := f.tokens.Validate(ctx, pair.RefreshToken, core.TokenTypeRefresh)
	require.NoError(t, err)

	priv, _, err := keys.GenerateKeyPair(keys.RSABits)
	require.NoError(t, err)
	foreignKeys, err := keys.NewRSAKeyManager(priv)
	require.NoError(t, err)

	// Same claims, same jti, different key
	forged, err := foreignKeys.Sign(core.RefreshClaims{
		RegisteredClaims: legit.RegisteredClaims,
		Type:             core.TokenTypeRefresh,
		UID:              user.ID,
	})
	require.NoError(t, err)

	_, err = f.tokens.Refresh(ctx, forged, testIssuer)
	assert.ErrorIs(t, err, core.ErrTokenSignatureInvalid)

	valid, err := f.store.IsValid(ctx, user.ID, legit.ID)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, f.publisher.Events())

	_, err = f.tokens.Refresh(ctx, pair.RefreshToken, testIssuer)
	assert.NoError(t, err)
}

func TestRefreshRequiresActiveUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})

	blocked := f.createUser(t, walletAddress, false)
	pair := issuePair(t, f, blocked)
	_, err := f.tokens.Refresh(ctx, pair.RefreshToken, testIssuer)
	assert.ErrorIs(t, err, core.ErrUserInactive)

	ghost := &core.User{ID: 404, Active: true}
	pair = issuePair(t, f, ghost)
	_, err = f.tokens.Refresh(ctx, pair.RefreshToken, testIssuer)
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

func TestValidateRejectsOtherAudience(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuthConfig{})
	user := f.createUser(t, walletAddress, true)

	other := NewTokenService(testKeyManager(t), f.store, f.users, nil, TokenConfig{
		Audience:   "someone-else",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}, WithClock(f.clock.Now))
	pair, err := other.Issue(ctx, IssueParams{User: user, Issuer: testIssuer})
	require.NoError(t, err)

	_, err = f.tokens.Validate(ctx, pair.AccessToken, core.TokenTypeAny)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestIssueFailsWhenRecordingFails(t *testing.T) {
	f := newFixture(t, AuthConfig{})
	broken := &failingRevocations{MemoryStore: store.NewMemoryStore(), addErr: errors.New("redis down")}
	svc := NewTokenService(testKeyManager(t), broken, f.users, nil, TokenConfig{
		Audience:   testAudience,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})

	pair, err := svc.Issue(context.Background(), IssueParams{User: &core.User{ID: 1}, Issuer: testIssuer})
	assert.ErrorIs(t, err, core.ErrTokenGenerationFailed)
	assert.Empty(t, pair.AccessToken)
}
