package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

func TestPrincipalDirectory_Upsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.eng.Principals.Upsert(ctx, types.Principal{Name: " Carol ", CardToken: "0a0b0c0d", Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Carol", p.Name)
	assert.Equal(t, "0A0B0C0D", p.CardToken)

	got, ok, err := h.eng.Identity.Resolve(ctx, "0a0b0c0d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	// Deactivating through an upsert stops resolution.
	p.Active = false
	_, err = h.eng.Principals.Upsert(ctx, p)
	require.NoError(t, err)
	_, ok, err = h.eng.Identity.Resolve(ctx, "0A0B0C0D")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrincipalDirectory_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var verr *service.ValidationError

	_, err := h.eng.Principals.Upsert(ctx, types.Principal{CardToken: "AA"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	_, err = h.eng.Principals.Upsert(ctx, types.Principal{Name: "Nobody"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "card_token", verr.Field)
}
