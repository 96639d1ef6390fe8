package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// autoNamePrefix and autoNameSuffixLen define the display name given to a
// key first seen by token only: "Key " + the last six token characters.
const (
	autoNamePrefix    = "Key "
	autoNameSuffixLen = 6
)

type KeyRegistry struct {
	keys store.KeyStore
	now  func() time.Time
}

func NewKeyRegistry(ks store.KeyStore) *KeyRegistry {
	return &KeyRegistry{keys: ks, now: func() time.Time { return time.Now().UTC() }}
}

func (r *KeyRegistry) Get(ctx context.Context, id string) (types.Key, bool, error) {
	return r.keys.GetKey(ctx, id)
}

// FindByNameOrToken looks the key up by display name first, then by
// hardware token.  Both comparisons ignore case.
func (r *KeyRegistry) FindByNameOrToken(ctx context.Context, key string) (types.Key, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return types.Key{}, false, nil
	}
	k, ok, err := r.keys.FindByName(ctx, key)
	if err != nil || ok {
		return k, ok, err
	}
	return r.keys.FindByToken(ctx, key)
}

// AutoRegister creates a key the engine has never seen.  Repeated calls with
// the same hints return the same record.  nameHint wins when set; otherwise
// the name is derived from tokenHint.  created is false when the hints
// resolved to an existing key instead.
func (r *KeyRegistry) AutoRegister(ctx context.Context, nameHint, tokenHint string, initial types.KeyState) (k types.Key, created bool, err error) {
	nameHint = strings.TrimSpace(nameHint)
	tokenHint = strings.TrimSpace(tokenHint)
	if nameHint == "" && tokenHint == "" {
		return types.Key{}, false, missingField("key_info")
	}

	if tokenHint != "" {
		if k, ok, err := r.keys.FindByToken(ctx, tokenHint); err != nil || ok {
			return k, false, err
		}
	}

	name := nameHint
	if name == "" {
		name = derivedName(tokenHint, autoNameSuffixLen)
	}
	if k, ok, err := r.keys.FindByName(ctx, name); err != nil {
		return types.Key{}, false, err
	} else if ok {
		if tokenHint == "" || (k.Token != nil && strings.EqualFold(*k.Token, tokenHint)) {
			return k, false, nil
		}
		// Suffix collision with a different token: use the whole token.
		name = derivedName(tokenHint, utf8.RuneCountInString(tokenHint))
		if k, ok, err := r.keys.FindByName(ctx, name); err != nil || ok {
			return k, false, err
		}
	}

	k = types.Key{
		ID:        uuid.NewString(),
		Name:      name,
		State:     initial,
		Active:    true,
		CreatedAt: r.now(),
	}
	if tokenHint != "" {
		t := tokenHint
		k.Token = &t
	}
	if err := r.keys.CreateKey(ctx, k); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with another registration of the same key.
			if existing, ok, ferr := r.FindByNameOrToken(ctx, name); ferr == nil && ok {
				return existing, false, nil
			}
		}
		return types.Key{}, false, err
	}
	return k, true, nil
}

// Register is the administrative path: it fails with store.ErrConflict if
// the name or token already belongs to a key.
func (r *KeyRegistry) Register(ctx context.Context, name, token string) (types.Key, error) {
	name = strings.TrimSpace(name)
	token = strings.TrimSpace(token)
	if name == "" {
		return types.Key{}, missingField("name")
	}
	k := types.Key{
		ID:        uuid.NewString(),
		Name:      name,
		State:     types.KeyAvailable,
		Active:    true,
		CreatedAt: r.now(),
	}
	if token != "" {
		k.Token = &token
	}
	if err := r.keys.CreateKey(ctx, k); err != nil {
		return types.Key{}, err
	}
	return k, nil
}

func (r *KeyRegistry) List(ctx context.Context) ([]types.Key, error) {
	return r.keys.ListKeys(ctx)
}

// derivedName keeps the last suffixLen characters (runes, not bytes) of the
// upper-cased token.
func derivedName(token string, suffixLen int) string {
	r := []rune(strings.ToUpper(token))
	if len(r) > suffixLen {
		r = r[len(r)-suffixLen:]
	}
	return autoNamePrefix + string(r)
}
