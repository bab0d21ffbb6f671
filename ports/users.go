package ports

import (
	"context"

	"github.com/layer-3/siwe/core"
)

// UserRepository resolves accounts. Lookups return core.ErrUserNotFound when absent.
type UserRepository interface {
	FindByID(ctx context.Context, uid int64) (*core.User, error)
	FindByAddress(ctx context.Context, address string) (*core.User, error)

	// Create assigns ID and UUID when they are zero. If the wallet address is
	// already registered, user is overwritten with the existing account.
	Create(ctx context.Context, user *core.User) error
}
