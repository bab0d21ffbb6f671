package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/service"
)

const (
	userKey   = "siwe_user"
	claimsKey = "siwe_claims"
)

// AuthMiddleware requires a valid access token of an active account
func AuthMiddleware(authService *service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgInvalidHeader})
			return
		}

		user, claims, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			if isAuthFailure(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgInvalidToken})
				return
			}
			logger.Error("bearer authentication failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
			return
		}

		c.Set(userKey, user)
		c.Set(claimsKey, claims)

		c.Next()
	}
}

// RequestTimeout bounds the context of every request
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bearerToken returns the token of an "Authorization: Bearer <jwt>" header
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) < 8 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func fingerprint(c *gin.Context) core.Fingerprint {
	return core.NewFingerprint(c.ClientIP(), c.GetHeader("User-Agent"), c.GetHeader("Origin"))
}

func currentUser(c *gin.Context) (*core.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*core.User)
	return user, ok
}
