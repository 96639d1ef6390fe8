// Package memory holds map-backed stores for tests and dev runs.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

type PrincipalStore struct {
	mu   sync.RWMutex
	data map[string]types.Principal
}

func NewPrincipalStore(seed ...types.Principal) *PrincipalStore {
	s := &PrincipalStore{data: make(map[string]types.Principal)}
	for _, p := range seed {
		_ = s.UpsertPrincipal(context.Background(), p)
	}
	return s
}

func (s *PrincipalStore) FindByCard(_ context.Context, cardToken string) (types.Principal, bool, error) {
	cardToken = strings.ToUpper(strings.TrimSpace(cardToken))
	if cardToken == "" {
		return types.Principal{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.data {
		if p.CardToken == cardToken {
			return p, true, nil
		}
	}
	return types.Principal{}, false, nil
}

func (s *PrincipalStore) FindByFingerprint(_ context.Context, fingerprintID string) (types.Principal, bool, error) {
	fingerprintID = strings.TrimSpace(fingerprintID)
	if fingerprintID == "" {
		return types.Principal{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.data {
		if p.FingerprintID == fingerprintID {
			return p, true, nil
		}
	}
	return types.Principal{}, false, nil
}

func (s *PrincipalStore) UpsertPrincipal(_ context.Context, p types.Principal) error {
	p.CardToken = strings.ToUpper(strings.TrimSpace(p.CardToken))
	p.FingerprintID = strings.TrimSpace(p.FingerprintID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.ID] = p
	return nil
}
