package store

import (
	"context"

	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// KeyStore holds key records.  Name and token lookups are case-insensitive.
// Key state is only changed through LedgerStore.CommitTransition so the
// state and its transaction are written together.
type KeyStore interface {
	GetKey(ctx context.Context, id string) (types.Key, bool, error)
	FindByName(ctx context.Context, name string) (types.Key, bool, error)
	FindByToken(ctx context.Context, token string) (types.Key, bool, error)
	CreateKey(ctx context.Context, k types.Key) error
	ListKeys(ctx context.Context) ([]types.Key, error)
}
