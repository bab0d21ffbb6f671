package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/ports"
	"github.com/layer-3/siwe/service"
)

// AuthHandlers contains HTTP handlers for the SIWE endpoints
type AuthHandlers struct {
	auth   *service.AuthService
	tokens *service.TokenService
	nonces *service.NonceService
	keys   ports.KeyManager
	logger *zap.Logger

	issuer   string
	audience string
}

// NewAuthHandlers creates new auth handlers. An empty issuer is derived from each request.
func NewAuthHandlers(deps Dependencies, issuer, audience string) *AuthHandlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandlers{
		auth:     deps.Auth,
		tokens:   deps.Tokens,
		nonces:   deps.Nonces,
		keys:     deps.Keys,
		logger:   logger,
		issuer:   strings.TrimRight(issuer, "/"),
		audience: audience,
	}
}

// Nonce issues a sign-in nonce bound to the calling client
func (h *AuthHandlers) Nonce(c *gin.Context) {
	nonce, err := h.nonces.Issue(c.Request.Context(), fingerprint(c))
	if err != nil {
		h.logger.Error("failed to issue nonce", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgNonceFailed})
		return
	}

	c.JSON(http.StatusOK, gin.H{"nonce": nonce.Value})
}

// SignIn verifies a signed SIWE message and returns the session envelope
func (h *AuthHandlers) SignIn(c *gin.Context) {
	var req struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
		Address   string `json:"address"`
	}
	if !h.bindJSON(c, &req) {
		return
	}

	if field := firstMissing("message", req.Message, "signature", req.Signature, "address", req.Address); field != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(msgMissingFieldFmt, field)})
		return
	}

	resp, err := h.auth.SignIn(c.Request.Context(), service.SignInRequest{
		Fingerprint: fingerprint(c),
		Message:     req.Message,
		Signature:   req.Signature,
		Address:     req.Address,
		Issuer:      h.issuerFor(c),
		Host:        c.Request.Host,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrMessageMalformed):
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidMessage})
		case isAuthFailure(err):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgAuthFailed})
		default:
			h.logger.Error("sign-in failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Refresh rotates a refresh token into a new pair
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !h.bindJSON(c, &req) {
		return
	}

	if req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(msgMissingFieldFmt, "refresh_token")})
		return
	}

	pair, err := h.tokens.Refresh(c.Request.Context(), req.RefreshToken, h.issuerFor(c))
	if err != nil {
		if isAuthFailure(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgInvalidRefresh})
			return
		}
		h.logger.Error("refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	c.JSON(http.StatusOK, pair)
}

// Logout succeeds without credentials. Server side revocation depends on configuration.
func (h *AuthHandlers) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), bearerToken(c)); err != nil {
		h.logger.Error("logout revocation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgLoggedOut})
}

// RevokeAll revokes every refresh token of the authenticated user
func (h *AuthHandlers) RevokeAll(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	if err := h.tokens.RevokeAll(c.Request.Context(), user.ID); err != nil {
		h.logger.Error("revoke all failed", zap.Error(err), zap.Int64("uid", user.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgRevoked})
}

// Me returns the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	c.JSON(http.StatusOK, service.NewUserSummary(user, h.issuerFor(c)))
}

// PublicKey lets resource servers verify tokens offline
func (h *AuthHandlers) PublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"algorithm":  h.keys.Algorithm(),
		"issuer":     h.issuerFor(c),
		"audience":   h.audience,
		"public_key": string(h.keys.PublicKeyPEM()),
	})
}

// JWKS serves the signing key as a JSON Web Key Set
func (h *AuthHandlers) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, h.keys.JWKS())
}

// Health reports that the server is up
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// issuerFor returns the configured issuer or the origin the request was sent to
func (h *AuthHandlers) issuerFor(c *gin.Context) string {
	if h.issuer != "" {
		return h.issuer
	}

	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// bindJSON decodes the body into req. An empty body decodes to the zero request
// so that the missing field is reported; anything else that is not JSON is a 400.
func (h *AuthHandlers) bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	h.logger.Debug("rejected request body", zap.Error(err), zap.String("path", c.FullPath()))
	c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
	return false
}

// firstMissing takes name/value pairs and returns the first name with an empty value
func firstMissing(pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return pairs[i]
		}
	}
	return ""
}
