package ports

import (
	"crypto/rsa"

	"github.com/golang-jwt/jwt/v5"
)

// JWK is an RSA public key in JSON Web Key form
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeyManager owns the signing keypair. The private key never leaves it.
type KeyManager interface {
	Algorithm() string
	KeyID() string
	PublicKey() *rsa.PublicKey
	PublicKeyPEM() []byte
	JWKS() JWKS

	// Sign serializes and signs the claims
	Sign(claims jwt.Claims) (string, error)

	// Verify checks signature and registered time claims and decodes into claims
	Verify(token string, claims jwt.Claims, opts ...jwt.ParserOption) error
}
