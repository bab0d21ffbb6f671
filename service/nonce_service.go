package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/ports"
)

// NonceLookupTTL bounds the reverse nonce -> fingerprint entry regardless of the nonce TTL
const NonceLookupTTL = 300 * time.Second

// NonceService issues and consumes single-use sign-in nonces
type NonceService struct {
	store   ports.NonceStore
	ttl     time.Duration
	metrics ports.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewNonceService constructs a NonceService instance.
func NewNonceService(store ports.NonceStore, ttl time.Duration, metrics ports.Metrics, logger *zap.Logger) *NonceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &NonceService{store: store, ttl: ttl, metrics: metrics, logger: logger, now: time.Now}
}

// Issue creates a nonce bound to fp
func (s *NonceService) Issue(ctx context.Context, fp core.Fingerprint) (core.Nonce, error) {
	value, err := randomHex(16)
	if err != nil {
		s.metrics.RecordAuthEvent("nonce", outcomeError)
		return core.Nonce{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	if err := s.store.Put(ctx, value, fp, s.ttl, NonceLookupTTL); err != nil {
		s.metrics.RecordAuthEvent("nonce", outcomeError)
		return core.Nonce{}, err
	}

	s.metrics.RecordAuthEvent("nonce", outcomeSuccess)
	return core.Nonce{Value: value, Fingerprint: fp, IssuedAt: s.now(), TTL: s.ttl}, nil
}

// Consume reports whether nonce was issued to fp and not used or expired.
// A true result can be observed at most once per nonce.
func (s *NonceService) Consume(ctx context.Context, fp core.Fingerprint, nonce string) (bool, error) {
	if nonce == "" {
		return false, nil
	}

	ok, err := s.store.Consume(ctx, nonce, fp)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Info("nonce rejected", zap.String("fingerprint", fp.String()))
	}
	return ok, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
