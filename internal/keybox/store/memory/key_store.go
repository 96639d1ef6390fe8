package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]types.Key
}

func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]types.Key)}
}

func (s *KeyStore) GetKey(_ context.Context, id string) (types.Key, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	return k, ok, nil
}

func (s *KeyStore) FindByName(_ context.Context, name string) (types.Key, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Key{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if strings.EqualFold(k.Name, name) {
			return k, true, nil
		}
	}
	return types.Key{}, false, nil
}

func (s *KeyStore) FindByToken(_ context.Context, token string) (types.Key, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.Key{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Token != nil && strings.EqualFold(*k.Token, token) {
			return k, true, nil
		}
	}
	return types.Key{}, false, nil
}

func (s *KeyStore) CreateKey(_ context.Context, k types.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if strings.EqualFold(existing.Name, k.Name) {
			return store.ErrConflict
		}
		if k.Token != nil && existing.Token != nil && strings.EqualFold(*existing.Token, *k.Token) {
			return store.ErrConflict
		}
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	s.keys[k.ID] = k
	return nil
}

func (s *KeyStore) ListKeys(_ context.Context) ([]types.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *KeyStore) applyState(id string, state types.KeyState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return store.ErrNotFound
	}
	k.State = state
	k.LastUsedAt = &at
	s.keys[id] = k
	return nil
}

func (s *KeyStore) resetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, k := range s.keys {
		k.State = types.KeyAvailable
		s.keys[id] = k
	}
}
