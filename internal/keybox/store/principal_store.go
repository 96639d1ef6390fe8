package store

import (
	"context"

	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// PrincipalStore is read by the identity resolver and written only by
// administrative action.  Card tokens are stored upper-cased.
type PrincipalStore interface {
	FindByCard(ctx context.Context, cardToken string) (types.Principal, bool, error)
	FindByFingerprint(ctx context.Context, fingerprintID string) (types.Principal, bool, error)
	UpsertPrincipal(ctx context.Context, p types.Principal) error
}
