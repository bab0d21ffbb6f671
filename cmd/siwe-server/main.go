package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/layer-3/siwe/adapters/events"
	"github.com/layer-3/siwe/adapters/keys"
	"github.com/layer-3/siwe/adapters/siwe"
	"github.com/layer-3/siwe/adapters/store"
	"github.com/layer-3/siwe/adapters/users"
	"github.com/layer-3/siwe/internal/config"
	"github.com/layer-3/siwe/internal/logger"
	"github.com/layer-3/siwe/internal/metrics"
	"github.com/layer-3/siwe/ports"
	"github.com/layer-3/siwe/service"
	transport "github.com/layer-3/siwe/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logr.Fatal("failed to parse redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logr.Fatal("redis unreachable", zap.Error(err))
		}
	}

	var (
		nonceStore      ports.NonceStore
		revocationStore ports.RevocationStore
		userRepo        ports.UserRepository
	)
	switch cfg.Store.Driver {
	case config.DriverRedis:
		rs := store.NewRedisStore(redisClient)
		nonceStore, revocationStore = rs, rs
		userRepo = users.NewRedisStore(redisClient)
	default:
		ms := store.NewMemoryStore()
		nonceStore, revocationStore = ms, ms
		userRepo = users.NewMemoryStore()
	}

	var keyStore ports.KeyStore
	switch cfg.Store.KeyStore {
	case config.DriverRedis:
		keyStore = store.NewRedisKeyStore(redisClient)
	default:
		keyStore = keys.NewFileStore(cfg.Store.KeyDir)
	}

	keyManager, err := keys.LoadOrGenerate(ctx, keyStore, logr)
	if err != nil {
		logr.Fatal("failed to initialize signing key", zap.Error(err))
	}

	m := metrics.New()

	tokenOpts := []service.TokenOption{service.WithMetrics(m)}
	if cfg.Events.Enabled {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			events.NewZapLogger(logr),
		)
		if err != nil {
			logr.Fatal("failed to create redis stream publisher", zap.Error(err))
		}
		defer publisher.Close()
		tokenOpts = append(tokenOpts, service.WithPublisher(events.NewWatermillPublisher(publisher)))
	}

	nonces := service.NewNonceService(nonceStore, cfg.SIWE.NonceTTL, m, logr)
	tokens := service.NewTokenService(keyManager, revocationStore, userRepo, logr, service.TokenConfig{
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTTL: cfg.JWT.RefreshTokenTTL,
	}, tokenOpts...)
	verifier := siwe.NewVerifier(siwe.Config{
		AllowedDomains: cfg.SIWE.AllowedDomains,
		AllowHostLogin: cfg.SIWE.AllowHostLogin,
	}, logr)
	auth := service.NewAuthService(nonces, verifier, userRepo, tokens, m, logr, service.AuthConfig{
		AutoRegister:   cfg.SIWE.AutoRegister,
		RevokeOnLogout: cfg.JWT.RevokeOnLogout,
	})

	router, err := transport.SetupRouter(transport.Dependencies{
		Auth:    auth,
		Tokens:  tokens,
		Nonces:  nonces,
		Keys:    keyManager,
		Metrics: m,
		Logger:  logr,
	}, transport.RouterConfig{
		Issuer:         cfg.JWT.Issuer,
		Audience:       cfg.JWT.Audience,
		RequestTimeout: cfg.RequestTimeout,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		logr.Fatal("failed to set up router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           transport.WithCORS(router, cfg.CORS.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Info("server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Store.Driver),
			zap.String("key_id", keyManager.KeyID()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
