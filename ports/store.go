package ports

import (
	"context"
	"time"

	"github.com/layer-3/siwe/core"
)

// NonceStore keeps issued nonces. Consume must be a single atomic
// compare-and-delete so that a nonce can be taken at most once.
type NonceStore interface {
	// Put stores the forward entry (fingerprint, nonce) for ttl and the
	// reverse entry nonce -> fingerprint for lookupTTL.
	Put(ctx context.Context, nonce string, fp core.Fingerprint, ttl, lookupTTL time.Duration) error

	// Consume deletes both entries and reports true only if the reverse entry
	// exists, is bound to fp and the forward entry has not expired.
	Consume(ctx context.Context, nonce string, fp core.Fingerprint) (bool, error)
}

// RevocationStore is the per-user map of honorable refresh token ids
type RevocationStore interface {
	// Add prunes the user's expired entries and inserts jti in one atomic step
	Add(ctx context.Context, uid int64, jti string, expiry time.Time) error

	// Remove deletes one entry and reports whether it was present
	Remove(ctx context.Context, uid int64, jti string) (bool, error)

	// RemoveAll deletes every entry of the user
	RemoveAll(ctx context.Context, uid int64) error

	// IsValid reports whether jti is recorded for uid with an expiry in the future
	IsValid(ctx context.Context, uid int64, jti string) (bool, error)
}

// KeyStore persists the signing keypair outside the process
type KeyStore interface {
	// Load returns core.ErrKeyNotFound when no keypair was saved yet
	Load(ctx context.Context) (privatePEM, publicPEM []byte, err error)

	// Save writes both halves only if none exist, otherwise core.ErrKeyExists
	Save(ctx context.Context, privatePEM, publicPEM []byte) error
}
