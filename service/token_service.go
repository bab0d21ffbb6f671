package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/ports"
)

const (
	outcomeSuccess          = "success"
	outcomeError            = "error"
	outcomeExpired          = "expired"
	outcomeInvalidSignature = "invalid_signature"
	outcomeTypeMismatch     = "type_mismatch"
	outcomeRevoked          = "revoked"
	outcomeRejected         = "rejected"
)

// TokenConfig defines lifetimes and the audience of issued tokens.
type TokenConfig struct {
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// IssueParams describe the token pair to mint
type IssueParams struct {
	User   *core.User
	Issuer string
	Extras core.AccessExtras
}

// TokenService issues, validates and rotates JWT session tokens
type TokenService struct {
	keys        ports.KeyManager
	revocations ports.RevocationStore
	users       ports.UserRepository
	publisher   ports.EventPublisher
	metrics     ports.Metrics
	logger      *zap.Logger
	config      TokenConfig
	now         func() time.Time
}

// TokenOption customizes a TokenService
type TokenOption func(*TokenService)

// WithPublisher publishes revocation events to p
func WithPublisher(p ports.EventPublisher) TokenOption {
	return func(s *TokenService) { s.publisher = p }
}

// WithMetrics records outcomes to m
func WithMetrics(m ports.Metrics) TokenOption {
	return func(s *TokenService) { s.metrics = m }
}

// WithClock replaces time.Now for issuance and validation
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(keys ports.KeyManager, revocations ports.RevocationStore, users ports.UserRepository, logger *zap.Logger, config TokenConfig, opts ...TokenOption) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TokenService{
		keys:        keys,
		revocations: revocations,
		users:       users,
		publisher:   ports.NopPublisher{},
		metrics:     ports.NopMetrics{},
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints an access and a refresh token and records the refresh token as honorable
func (s *TokenService) Issue(ctx context.Context, params IssueParams) (core.TokenPair, error) {
	pair, _, err := s.issue(ctx, params)
	if err != nil {
		s.metrics.RecordAuthEvent("issue", outcomeError)
		return core.TokenPair{}, err
	}
	s.metrics.RecordAuthEvent("issue", outcomeSuccess)
	return pair, nil
}

func (s *TokenService) issue(ctx context.Context, params IssueParams) (core.TokenPair, string, error) {
	user := params.User
	now := s.now()

	accessID, err := randomHex(16)
	if err != nil {
		return core.TokenPair{}, "", fmt.Errorf("%w: %w", core.ErrTokenGenerationFailed, err)
	}
	refreshID, err := randomHex(16)
	if err != nil {
		return core.TokenPair{}, "", fmt.Errorf("%w: %w", core.ErrTokenGenerationFailed, err)
	}

	access := core.AccessClaims{
		RegisteredClaims: s.registeredClaims(params.Issuer, user.ID, accessID, now, s.config.AccessTTL),
		Type:             core.TokenTypeAccess,
		UID:              user.ID,
		Name:             user.Name,
		Roles:            user.Roles,
		Address:          user.EthereumAddress,
		AccessExtras:     params.Extras,
	}
	refresh := core.RefreshClaims{
		RegisteredClaims: s.registeredClaims(params.Issuer, user.ID, refreshID, now, s.config.RefreshTTL),
		Type:             core.TokenTypeRefresh,
		UID:              user.ID,
	}

	accessToken, err := s.keys.Sign(access)
	if err != nil {
		return core.TokenPair{}, "", fmt.Errorf("%w: %w", core.ErrTokenGenerationFailed, err)
	}
	refreshToken, err := s.keys.Sign(refresh)
	if err != nil {
		return core.TokenPair{}, "", fmt.Errorf("%w: %w", core.ErrTokenGenerationFailed, err)
	}

	if err := s.revocations.Add(ctx, user.ID, refreshID, refresh.ExpiresAt.Time); err != nil {
		return core.TokenPair{}, "", fmt.Errorf("%w: %w", core.ErrTokenGenerationFailed, err)
	}

	return core.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.config.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(s.config.RefreshTTL.Seconds()),
	}, refreshID, nil
}

func (s *TokenService) registeredClaims(issuer string, uid int64, id string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   strconv.FormatInt(uid, 10),
		Audience:  jwt.ClaimStrings{s.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        id,
	}
}

// Validate verifies token and checks its type. Refresh tokens must also still be
// recorded in the revocation store. expected may be core.TokenTypeAny.
func (s *TokenService) Validate(ctx context.Context, token string, expected core.TokenType) (*core.Claims, error) {
	claims, err := s.validate(ctx, token, expected)
	if err != nil {
		s.metrics.RecordAuthEvent("validate", outcomeFor(err))
		return nil, err
	}
	s.metrics.RecordAuthEvent("validate", outcomeSuccess)
	return claims, nil
}

func (s *TokenService) validate(ctx context.Context, token string, expected core.TokenType) (*core.Claims, error) {
	var claims core.Claims
	err := s.keys.Verify(token, &claims, jwt.WithAudience(s.config.Audience), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, core.ErrTokenExpired) {
			s.logger.Info("token expired", zap.Error(err))
		} else {
			s.logger.Warn("token rejected", zap.Error(err))
		}
		return nil, err
	}

	if claims.Type != core.TokenTypeAccess && claims.Type != core.TokenTypeRefresh {
		s.logger.Warn("token has unknown type", zap.String("type", string(claims.Type)))
		return nil, core.ErrTokenTypeMismatch
	}
	if expected != core.TokenTypeAny && claims.Type != expected {
		s.logger.Warn("token type mismatch",
			zap.String("expected", string(expected)),
			zap.String("actual", string(claims.Type)),
			zap.Int64("uid", claims.UID),
		)
		return nil, core.ErrTokenTypeMismatch
	}

	if claims.Type == core.TokenTypeRefresh {
		ok, err := s.revocations.IsValid(ctx, claims.UID, claims.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("refresh token revoked", zap.Int64("uid", claims.UID), zap.String("jti", claims.ID))
			return nil, core.ErrTokenRevoked
		}
	}

	return &claims, nil
}

// Refresh rotates refreshToken into a new pair. Of concurrent calls with the
// same token at most one succeeds.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, issuer string) (core.TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken, issuer)
	if err != nil {
		s.metrics.RecordAuthEvent("refresh", outcomeFor(err))
		return core.TokenPair{}, err
	}
	s.metrics.RecordAuthEvent("refresh", outcomeSuccess)
	return pair, nil
}

func (s *TokenService) refresh(ctx context.Context, refreshToken, issuer string) (core.TokenPair, error) {
	claims, err := s.validate(ctx, refreshToken, core.TokenTypeRefresh)
	if err != nil {
		return core.TokenPair{}, err
	}

	user, err := s.users.FindByID(ctx, claims.UID)
	if err != nil {
		return core.TokenPair{}, err
	}
	if !user.Active {
		s.logger.Warn("refresh for inactive user", zap.Int64("uid", user.ID))
		return core.TokenPair{}, core.ErrUserInactive
	}

	if issuer == "" {
		issuer = claims.Issuer
	}
	pair, newID, err := s.issue(ctx, IssueParams{User: user, Issuer: issuer})
	if err != nil {
		return core.TokenPair{}, err
	}

	removed, err := s.revocations.Remove(ctx, claims.UID, claims.ID)
	if err != nil || !removed {
		if _, rbErr := s.revocations.Remove(ctx, claims.UID, newID); rbErr != nil {
			s.logger.Error("failed to roll back refresh token", zap.Error(rbErr), zap.Int64("uid", claims.UID))
		}
		if err != nil {
			return core.TokenPair{}, err
		}
		s.logger.Warn("refresh token already rotated", zap.Int64("uid", claims.UID), zap.String("jti", claims.ID))
		return core.TokenPair{}, core.ErrTokenRevoked
	}

	s.publish(ctx, core.RevocationEvent{
		UserID:     claims.UID,
		TokenID:    claims.ID,
		Reason:     core.RevocationRotated,
		OccurredAt: s.now(),
	})

	return pair, nil
}

// RevokeAll stops honoring every refresh token of uid
func (s *TokenService) RevokeAll(ctx context.Context, uid int64) error {
	if err := s.revocations.RemoveAll(ctx, uid); err != nil {
		s.metrics.RecordAuthEvent("revoke_all", outcomeError)
		return err
	}

	s.logger.Info("revoked all refresh tokens", zap.Int64("uid", uid))
	s.metrics.RecordAuthEvent("revoke_all", outcomeSuccess)
	s.publish(ctx, core.RevocationEvent{
		UserID:     uid,
		Reason:     core.RevocationLogoutAll,
		OccurredAt: s.now(),
	})
	return nil
}

// publish never fails the caller, the store is the source of truth
func (s *TokenService) publish(ctx context.Context, event core.RevocationEvent) {
	if err := s.publisher.PublishRevocation(ctx, event); err != nil {
		s.logger.Warn("failed to publish revocation event", zap.Error(err), zap.String("reason", string(event.Reason)))
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, core.ErrTokenExpired):
		return outcomeExpired
	case errors.Is(err, core.ErrTokenSignatureInvalid):
		return outcomeInvalidSignature
	case errors.Is(err, core.ErrTokenTypeMismatch):
		return outcomeTypeMismatch
	case errors.Is(err, core.ErrTokenRevoked):
		return outcomeRevoked
	case errors.Is(err, core.ErrTokenInvalid),
		errors.Is(err, core.ErrNonceInvalid),
		errors.Is(err, core.ErrSignatureInvalid),
		errors.Is(err, core.ErrMessageMalformed),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrUserInactive):
		return outcomeRejected
	default:
		return outcomeError
	}
}
