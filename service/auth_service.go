package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/ports"
)

// DefaultRole is granted to accounts created on first sign-in
const DefaultRole = "authenticated"

// AuthConfig defines the account policy of the sign-in flow.
type AuthConfig struct {
	AutoRegister   bool
	RevokeOnLogout bool
}

// SignInRequest carries a signed SIWE message and the context of the request
type SignInRequest struct {
	Fingerprint core.Fingerprint
	Message     string
	Signature   string
	Address     string
	Issuer      string // Server origin, used as iss and in the user url
	Host        string // Request host, accepted as SIWE domain when host login is on
}

// AuthService orchestrates sign-in: nonce, signature, account, tokens
type AuthService struct {
	nonces   *NonceService
	verifier ports.SiweVerifier
	users    ports.UserRepository
	tokens   *TokenService
	metrics  ports.Metrics
	logger   *zap.Logger
	config   AuthConfig
}

// NewAuthService creates a new authentication service
func NewAuthService(
	nonces *NonceService,
	verifier ports.SiweVerifier,
	users ports.UserRepository,
	tokens *TokenService,
	metrics ports.Metrics,
	logger *zap.Logger,
	config AuthConfig,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &AuthService{
		nonces:   nonces,
		verifier: verifier,
		users:    users,
		tokens:   tokens,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// SignIn authenticates a wallet and returns the session envelope
func (s *AuthService) SignIn(ctx context.Context, req SignInRequest) (*core.AuthResponse, error) {
	resp, err := s.signIn(ctx, req)
	if err != nil {
		s.metrics.RecordAuthEvent("sign_in", outcomeFor(err))
		return nil, err
	}
	s.metrics.RecordAuthEvent("sign_in", outcomeSuccess)
	return resp, nil
}

func (s *AuthService) signIn(ctx context.Context, req SignInRequest) (*core.AuthResponse, error) {
	msg, err := s.verifier.ParseMessage(req.Message)
	if err != nil {
		s.logger.Info("rejected malformed siwe message", zap.Error(err))
		return nil, err
	}

	// Consumed before signature verification: a failed attempt burns the nonce
	ok, err := s.nonces.Consume(ctx, req.Fingerprint, msg.Nonce)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNonceInvalid
	}

	address, err := s.verifier.Verify(ctx, msg, req.Signature, req.Address, req.Host)
	if err != nil {
		return nil, err
	}

	user, err := s.resolveUser(ctx, address)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(ctx, IssueParams{
		User:   user,
		Issuer: req.Issuer,
		Extras: core.AccessExtras{SiweDomain: msg.Domain, ChainID: msg.ChainID},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed in", zap.Int64("uid", user.ID), zap.String("address", address))
	return NewAuthResponse(user, pair, req.Issuer), nil
}

func (s *AuthService) resolveUser(ctx context.Context, address string) (*core.User, error) {
	user, err := s.users.FindByAddress(ctx, address)
	switch {
	case errors.Is(err, core.ErrUserNotFound) && s.config.AutoRegister:
		user = &core.User{
			Name:            address,
			EthereumAddress: address,
			Roles:           []string{DefaultRole},
			DisplayName:     address,
			Active:          true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
		s.logger.Info("registered wallet account", zap.Int64("uid", user.ID), zap.String("address", address))
	case err != nil:
		return nil, err
	}

	if !user.Active {
		s.logger.Warn("sign-in for inactive user", zap.Int64("uid", user.ID))
		return nil, core.ErrUserInactive
	}
	return user, nil
}

// Authenticate resolves a bearer access token to an active account
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*core.User, *core.Claims, error) {
	claims, err := s.tokens.Validate(ctx, accessToken, core.TokenTypeAccess)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UID)
	if err != nil {
		return nil, nil, err
	}
	if !user.Active {
		return nil, nil, core.ErrUserInactive
	}
	return user, claims, nil
}

// Logout always succeeds for the caller. With RevokeOnLogout every refresh
// token of the bearer's account is revoked first.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if !s.config.RevokeOnLogout || accessToken == "" {
		return nil
	}

	user, _, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		s.logger.Info("logout without valid bearer token", zap.Error(err))
		return nil
	}
	return s.tokens.RevokeAll(ctx, user.ID)
}

// NewAuthResponse builds the sign-in envelope
func NewAuthResponse(user *core.User, pair core.TokenPair, issuer string) *core.AuthResponse {
	return &core.AuthResponse{
		TokenPair: pair,
		User:      NewUserSummary(user, issuer),
	}
}

// NewUserSummary is the public view of user, url is <issuer>/user/<uid>
func NewUserSummary(user *core.User, issuer string) core.UserSummary {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return core.UserSummary{
		UID:             user.ID,
		UUID:            user.UUID,
		Name:            user.Name,
		Mail:            user.Mail,
		EthereumAddress: user.EthereumAddress,
		Roles:           roles,
		DisplayName:     user.DisplayName,
		URL:             strings.TrimRight(issuer, "/") + "/user/" + strconv.FormatInt(user.ID, 10),
	}
}
