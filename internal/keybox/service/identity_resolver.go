package service

import (
	"context"
	"strings"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// fingerprintPrefix marks a biometric template id; anything else is a card.
const fingerprintPrefix = "FP_"

// IdentityResolver maps a raw credential token to a known, active
// principal.  An empty or unmatched token is simply unresolved.
type IdentityResolver struct {
	principals store.PrincipalStore
}

func NewIdentityResolver(ps store.PrincipalStore) *IdentityResolver {
	return &IdentityResolver{principals: ps}
}

func (r *IdentityResolver) Resolve(ctx context.Context, raw string) (types.Principal, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.Principal{}, false, nil
	}

	var (
		p   types.Principal
		ok  bool
		err error
	)
	if len(raw) >= len(fingerprintPrefix) && strings.EqualFold(raw[:len(fingerprintPrefix)], fingerprintPrefix) {
		id := strings.TrimSpace(raw[len(fingerprintPrefix):])
		if id == "" {
			return types.Principal{}, false, nil
		}
		p, ok, err = r.principals.FindByFingerprint(ctx, id)
	} else {
		p, ok, err = r.principals.FindByCard(ctx, strings.ToUpper(raw))
	}
	if err != nil || !ok || !p.Active {
		return types.Principal{}, false, err
	}
	return p, true, nil
}
