package http

import (
	"errors"

	"github.com/layer-3/siwe/core"
)

const (
	msgAuthFailed      = "Authentication failed"
	msgInvalidMessage  = "Invalid SIWE message"
	msgInvalidRefresh  = "Invalid or expired refresh token"
	msgInvalidToken    = "Invalid or expired token"
	msgInvalidHeader   = "Invalid authorization header"
	msgInvalidBody     = "Invalid request body"
	msgInternal        = "Internal server error"
	msgNonceFailed     = "Failed to generate nonce"
	msgLoggedOut       = "Logged out successfully"
	msgRevoked         = "All refresh tokens revoked"
	msgMissingFieldFmt = "Missing required field: %s"
)

var authFailures = []error{
	core.ErrNonceInvalid,
	core.ErrSignatureInvalid,
	core.ErrTokenExpired,
	core.ErrTokenSignatureInvalid,
	core.ErrTokenTypeMismatch,
	core.ErrTokenRevoked,
	core.ErrTokenInvalid,
	core.ErrUserNotFound,
	core.ErrUserInactive,
}

// isAuthFailure reports whether err is the caller's fault and maps to 401.
// Anything else is an internal error.
func isAuthFailure(err error) bool {
	for _, target := range authFailures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
