package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// PrincipalDirectory is the administrative write path for principals.  The
// event pipeline itself only reads them through IdentityResolver.
type PrincipalDirectory struct {
	store store.PrincipalStore
}

func NewPrincipalDirectory(ps store.PrincipalStore) *PrincipalDirectory {
	return &PrincipalDirectory{store: ps}
}

func (d *PrincipalDirectory) Upsert(ctx context.Context, p types.Principal) (types.Principal, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return types.Principal{}, missingField("name")
	}
	p.CardToken = strings.ToUpper(strings.TrimSpace(p.CardToken))
	p.FingerprintID = strings.TrimSpace(p.FingerprintID)
	if p.CardToken == "" && p.FingerprintID == "" {
		return types.Principal{}, &ValidationError{Field: "card_token", Message: "card_token or fingerprint_id is required"}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := d.store.UpsertPrincipal(ctx, p); err != nil {
		return types.Principal{}, err
	}
	return p, nil
}
