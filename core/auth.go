package core

import "time"

// Nonce is a single-use sign-in challenge bound to a client fingerprint
type Nonce struct {
	Value       string        // Hex-encoded random value
	Fingerprint Fingerprint   // Client the nonce was issued to
	IssuedAt    time.Time     // When the nonce was created
	TTL         time.Duration // How long the nonce may be consumed
}

// ExpiresAt returns the instant after which the nonce can no longer be consumed
func (n Nonce) ExpiresAt() time.Time {
	return n.IssuedAt.Add(n.TTL)
}

// User is the account a wallet address resolves to
type User struct {
	ID              int64    // Numeric account id, used as the token subject
	UUID            string   // Stable public identifier
	Name            string   // Account name
	Mail            string   // Optional e-mail
	EthereumAddress string   // Checksummed wallet address
	Roles           []string // Role names carried in access tokens
	DisplayName     string   // Human readable name
	Active          bool     // Blocked accounts cannot sign in or refresh
}

// SiweMessage is a parsed EIP-4361 message
type SiweMessage struct {
	Raw            string
	Scheme         string
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
	NotBefore      *time.Time
	RequestID      string
	Resources      []string
}

// TokenPair is returned once to the caller and never persisted
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// RevocationReason tells subscribers why refresh tokens stopped being honored
type RevocationReason string

const (
	RevocationLogoutAll RevocationReason = "logout_all"
	RevocationRotated   RevocationReason = "rotated"
)

// RevocationEvent is published whenever refresh records are removed
type RevocationEvent struct {
	UserID     int64            `json:"uid"`
	TokenID    string           `json:"jti,omitempty"`
	Reason     RevocationReason `json:"reason"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// UserSummary is the public view of an account returned after sign-in
type UserSummary struct {
	UID             int64    `json:"uid"`
	UUID            string   `json:"uuid"`
	Name            string   `json:"name"`
	Mail            string   `json:"mail"`
	EthereumAddress string   `json:"ethereum_address"`
	Roles           []string `json:"roles"`
	DisplayName     string   `json:"display_name"`
	URL             string   `json:"url"`
}

// AuthResponse is the sign-in envelope: the token pair plus the user summary
type AuthResponse struct {
	TokenPair
	User UserSummary `json:"user"`
}
