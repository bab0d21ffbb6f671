package core

import "errors"

var (
	ErrNonceInvalid          = errors.New("nonce is missing, expired or not bound to this client")
	ErrMessageMalformed      = errors.New("malformed siwe message")
	ErrSignatureInvalid      = errors.New("invalid signature")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
	ErrTokenTypeMismatch     = errors.New("unexpected token type")
	ErrTokenRevoked          = errors.New("token has been revoked")
	ErrTokenInvalid          = errors.New("invalid token")
	ErrUserNotFound          = errors.New("user not found")
	ErrUserInactive          = errors.New("user is inactive")
	ErrKeyNotFound           = errors.New("signing key not found")
	ErrKeyExists             = errors.New("signing key already exists")
	ErrKeyGenerationFailed   = errors.New("failed to generate signing key")
	ErrTokenGenerationFailed = errors.New("token generation failed")
	ErrStoreOperationFailed  = errors.New("store operation failed")
)
