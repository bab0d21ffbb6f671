package siwe

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/siwe/core"
	"go.uber.org/zap"
)

// Config controls which SIWE domains are accepted
type Config struct {
	AllowedDomains []string
	AllowHostLogin bool
}

// Verifier checks EIP-4361 messages and their EIP-191 personal_sign signatures
type Verifier struct {
	domains   []string
	allowHost bool
	now       func() time.Time
	logger    *zap.Logger
}

// NewVerifier creates a verifier. Allowed domains are normalized to host[:port].
func NewVerifier(cfg Config, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		if d = NormalizeDomain(d); d != "" {
			domains = append(domains, d)
		}
	}

	return &Verifier{
		domains:   domains,
		allowHost: cfg.AllowHostLogin,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock returns a copy of the verifier that reads time from now
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

func (v *Verifier) ParseMessage(raw string) (*core.SiweMessage, error) {
	return ParseMessage(raw)
}

// Verify returns the checksummed signer address
func (v *Verifier) Verify(ctx context.Context, msg *core.SiweMessage, signature, claimedAddress, requestHost string) (string, error) {
	if !common.IsHexAddress(claimedAddress) || common.HexToAddress(claimedAddress) != common.HexToAddress(msg.Address) {
		return "", v.reject("address mismatch", msg)
	}

	if !v.domainAllowed(msg.Domain, requestHost) {
		return "", v.reject("domain not allowed", msg)
	}

	now := v.now()
	if msg.ExpirationTime != nil && !now.Before(*msg.ExpirationTime) {
		return "", v.reject("message expired", msg)
	}
	if msg.NotBefore != nil && now.Before(*msg.NotBefore) {
		return "", v.reject("message not yet valid", msg)
	}

	signer, err := RecoverAddress(msg.Raw, signature)
	if err != nil {
		v.logger.Debug("signature recovery failed", zap.Error(err))
		return "", v.reject("signature recovery failed", msg)
	}
	if signer != common.HexToAddress(msg.Address) {
		return "", v.reject("signer mismatch", msg)
	}

	return signer.Hex(), nil
}

// RecoverAddress returns the address whose key produced the personal_sign
// signature over message
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}

	// Wallets put 27/28 in the recovery byte, SigToPub wants 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

func (v *Verifier) domainAllowed(domain, requestHost string) bool {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return false
	}
	if slices.Contains(v.domains, domain) {
		return true
	}
	return v.allowHost && domain == NormalizeDomain(requestHost)
}

func (v *Verifier) reject(reason string, msg *core.SiweMessage) error {
	v.logger.Warn("siwe verification failed",
		zap.String("reason", reason),
		zap.String("domain", msg.Domain),
		zap.String("address", msg.Address),
	)
	return fmt.Errorf("%w: %s", core.ErrSignatureInvalid, reason)
}
