package core

import "github.com/golang-jwt/jwt/v5"

// TokenType is the immutable "type" claim of every issued token
type TokenType string

const (
	TokenTypeAny     TokenType = ""
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// AccessExtras are the optional claims merged into access tokens
type AccessExtras struct {
	SiweDomain string `json:"siwe_domain,omitempty"`
	ChainID    int64  `json:"chain_id,omitempty"`
}

// AccessClaims are signed into access tokens only
type AccessClaims struct {
	jwt.RegisteredClaims
	Type    TokenType `json:"type"`
	UID     int64     `json:"uid"`
	Name    string    `json:"name"`
	Roles   []string  `json:"roles"`
	Address string    `json:"address,omitempty"`
	AccessExtras
}

// RefreshClaims carry nothing beyond the subject and the token type
type RefreshClaims struct {
	jwt.RegisteredClaims
	Type TokenType `json:"type"`
	UID  int64     `json:"uid"`
}

// Claims is the verified payload of any token. Fields that only exist on
// access tokens stay empty for refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Type    TokenType `json:"type"`
	UID     int64     `json:"uid"`
	Name    string    `json:"name,omitempty"`
	Roles   []string  `json:"roles,omitempty"`
	Address string    `json:"address,omitempty"`
	AccessExtras
}
