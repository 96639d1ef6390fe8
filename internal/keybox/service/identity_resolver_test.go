package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/keybox/internal/keybox/service"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store/memory"
)

func TestIdentityResolver(t *testing.T) {
	r := service.NewIdentityResolver(memory.NewPrincipalStore(alice, bob, eve))
	ctx := context.Background()

	cases := []struct {
		raw  string
		want string
	}{
		{"AA11BB22", "Alice"},
		{"  aa11bb22 ", "Alice"},
		{"FP_7", "Bob"},
		{"fp_7", "Bob"},
		{"CC33DD44", "Bob"},
		{"", ""},
		{"FP_", ""},
		{"FP_8", ""},
		{"NOPE", ""},
		{eve.CardToken, ""},
	}
	for _, tc := range cases {
		p, ok, err := r.Resolve(ctx, tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want != "", ok, tc.raw)
		assert.Equal(t, tc.want, p.Name, tc.raw)
	}
}
