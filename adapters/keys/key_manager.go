package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/siwe/core"
	"github.com/layer-3/siwe/ports"
	"go.uber.org/zap"
)

// RSABits is the size of generated signing keys
const RSABits = 2048

// RSAKeyManager implements the KeyManager interface with a single RS256 keypair
type RSAKeyManager struct {
	signKey   *rsa.PrivateKey
	publicPEM []byte
	kid       string
}

// LoadOrGenerate loads the persisted keypair, generating and saving one on first start.
// Any failure is wrapped in core.ErrKeyGenerationFailed and must abort startup.
func LoadOrGenerate(ctx context.Context, store ports.KeyStore, logger *zap.Logger) (*RSAKeyManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	privPEM, _, err := store.Load(ctx)
	if err == nil {
		km, err := NewRSAKeyManager(privPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrKeyGenerationFailed, err)
		}
		logger.Info("loaded jwt key pair", zap.String("kid", km.kid))
		return km, nil
	}
	if !errors.Is(err, core.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: failed to load key pair: %v", core.ErrKeyGenerationFailed, err)
	}

	privPEM, pubPEM, err := GenerateKeyPair(RSABits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrKeyGenerationFailed, err)
	}

	if err := store.Save(ctx, privPEM, pubPEM); err != nil {
		if !errors.Is(err, core.ErrKeyExists) {
			return nil, fmt.Errorf("%w: failed to persist key pair: %v", core.ErrKeyGenerationFailed, err)
		}
		// Another instance saved its pair first, use that one
		if privPEM, _, err = store.Load(ctx); err != nil {
			return nil, fmt.Errorf("%w: failed to reload key pair: %v", core.ErrKeyGenerationFailed, err)
		}
	}

	km, err := NewRSAKeyManager(privPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrKeyGenerationFailed, err)
	}
	logger.Info("generated new jwt key pair", zap.String("kid", km.kid))

	return km, nil
}

// NewRSAKeyManager creates a key manager from a PEM encoded RSA private key
func NewRSAKeyManager(privatePEM []byte) (*RSAKeyManager, error) {
	key, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	if key.N.BitLen() < RSABits {
		return nil, fmt.Errorf("rsa key must be at least %d bits", RSABits)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(pubDER)

	return &RSAKeyManager{
		signKey:   key,
		publicPEM: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		kid:       hex.EncodeToString(sum[:16]),
	}, nil
}

// GenerateKeyPair returns a PKCS1 private key and a PKIX public key, both PEM encoded
func GenerateKeyPair(bits int) (privatePEM, publicPEM []byte, err error) {
	if bits < RSABits {
		return nil, nil, fmt.Errorf("rsa key size must be at least %d bits", RSABits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}

// Algorithm is the JWS alg of every token this manager signs
func (k *RSAKeyManager) Algorithm() string { return jwt.SigningMethodRS256.Alg() }

// KeyID is derived from the public key and sent as the kid header
func (k *RSAKeyManager) KeyID() string { return k.kid }

// PublicKey returns the verification key
func (k *RSAKeyManager) PublicKey() *rsa.PublicKey { return &k.signKey.PublicKey }

// PublicKeyPEM returns a copy of the PKIX encoded public key
func (k *RSAKeyManager) PublicKeyPEM() []byte {
	out := make([]byte, len(k.publicPEM))
	copy(out, k.publicPEM)
	return out
}

// JWKS returns the public key for external verifiers
func (k *RSAKeyManager) JWKS() ports.JWKS {
	pub := k.signKey.PublicKey
	return ports.JWKS{Keys: []ports.JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: k.Algorithm(),
		Kid: k.kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// Sign converts the claims to a signed RS256 token
func (k *RSAKeyManager) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid

	signedToken, err := token.SignedString(k.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// Verify parses tokenStr into claims. Only RS256 with this manager's key is accepted.
func (k *RSAKeyManager) Verify(tokenStr string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}, opts...)

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &k.signKey.PublicKey, nil
	}, opts...)

	switch {
	case err == nil && token.Valid:
		return nil
	case err == nil:
		return core.ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", core.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", core.ErrTokenSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", core.ErrTokenInvalid, err)
	}
}

// parsePrivateKey accepts PKCS1 and PKCS8 encodings
func parsePrivateKey(privatePEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privatePEM)
	if block == nil {
		return nil, errors.New("invalid PEM for rsa key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rsa key: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an rsa private key")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported PEM type %q", block.Type)
	}
}
