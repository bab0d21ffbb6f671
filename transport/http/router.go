package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/layer-3/siwe/internal/logger"
	"github.com/layer-3/siwe/internal/metrics"
	"github.com/layer-3/siwe/ports"
	"github.com/layer-3/siwe/service"
)

// Dependencies are the services the routes are served by
type Dependencies struct {
	Auth    *service.AuthService
	Tokens  *service.TokenService
	Nonces  *service.NonceService
	Keys    ports.KeyManager
	Metrics *metrics.Metrics // optional
	Logger  *zap.Logger
}

// RouterConfig tunes the HTTP surface
type RouterConfig struct {
	Issuer         string
	Audience       string
	RequestTimeout time.Duration
	TrustedProxies []string
}

// SetupRouter sets up the Gin router
func SetupRouter(deps Dependencies, cfg RouterConfig) (*gin.Engine, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := gin.New()
	// Without trusted proxies ClientIP is the socket peer, so forwarded headers cannot pick a fingerprint
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	router.Use(gin.Recovery(), logger.RequestID(), logger.GinMiddleware(deps.Logger, "/health", "/metrics"))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(RequestTimeout(cfg.RequestTimeout))

	handlers := NewAuthHandlers(deps, cfg.Issuer, cfg.Audience)

	siwe := router.Group("/siwe")
	{
		siwe.POST("/nonce", handlers.Nonce)
		siwe.POST("/auth", handlers.SignIn)
		siwe.POST("/refresh", handlers.Refresh)
		siwe.POST("/logout", handlers.Logout)
		siwe.GET("/public-key", handlers.PublicKey)
	}

	// Protected routes
	protected := siwe.Group("")
	protected.Use(AuthMiddleware(deps.Auth, deps.Logger))
	{
		protected.GET("/me", handlers.Me)
		protected.POST("/revoke-all", handlers.RevokeAll)
	}

	router.GET("/.well-known/jwks.json", handlers.JWKS)
	router.GET("/health", handlers.Health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router, nil
}

// WithCORS answers preflights and sets CORS headers for the allowed origins
func WithCORS(h http.Handler, allowedOrigins []string) http.Handler {
	co := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
	return co.Handler(h)
}
