package ports

import (
	"context"

	"github.com/layer-3/siwe/core"
)

// SiweVerifier parses EIP-4361 messages and proves wallet ownership
type SiweVerifier interface {
	// ParseMessage fails with core.ErrMessageMalformed
	ParseMessage(raw string) (*core.SiweMessage, error)

	// Verify recovers the signer of msg and returns its checksummed address.
	// requestHost is accepted as a domain when host login is allowed.
	// Fails with core.ErrSignatureInvalid.
	Verify(ctx context.Context, msg *core.SiweMessage, signature, claimedAddress, requestHost string) (string, error)
}
