package service

import "sync"

// KeyLocks hands out one mutex per key identity.  Entries are reference
// counted and dropped when the last holder unlocks, so the map only holds
// keys with work in flight.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[string]*keyLock)}
}

// Lock blocks until id is free and returns its release function.
func (l *KeyLocks) Lock(id string) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[id]
	if !ok {
		kl = &keyLock{}
		l.locks[id] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *KeyLocks) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
