package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// LedgerStore is an in-memory append-only ledger.  It shares the KeyStore
// so a transition updates key state under the same lock as the append.
type LedgerStore struct {
	mu     sync.Mutex
	keys   *KeyStore
	txns   []types.Transaction
	audit  []types.AuditEntry
	alerts []types.Alert
}

func NewLedgerStore(keys *KeyStore) *LedgerStore {
	return &LedgerStore{keys: keys}
}

func (s *LedgerStore) CommitTransition(_ context.Context, rec store.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.keys.applyState(rec.KeyID, rec.NewState, rec.Transaction.Timestamp); err != nil {
		return err
	}
	s.txns = append(s.txns, rec.Transaction)
	s.audit = append(s.audit, rec.Audit)
	return nil
}

func (s *LedgerStore) AppendAudit(_ context.Context, e types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *LedgerStore) AppendAlert(_ context.Context, a types.Alert, audit []types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	s.audit = append(s.audit, audit...)
	return nil
}

func (s *LedgerStore) SetAlertStatus(_ context.Context, id string, from []types.AlertStatus, status types.AlertStatus, at time.Time) (types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		if !slices.Contains(from, s.alerts[i].Status) {
			return s.alerts[i], store.ErrStaleStatus
		}
		s.alerts[i].Status = status
		switch status {
		case types.AlertAcknowledged:
			s.alerts[i].AcknowledgedAt = &at
		case types.AlertResolved:
			s.alerts[i].ResolvedAt = &at
		}
		return s.alerts[i], nil
	}
	return types.Alert{}, store.ErrNotFound
}

func (s *LedgerStore) GetAlert(_ context.Context, id string) (types.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return a, true, nil
		}
	}
	return types.Alert{}, false, nil
}

// Entries are appended in commit order, so the last match is the latest.

func (s *LedgerStore) LatestTransaction(_ context.Context, keyID string) (types.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].KeyID == keyID {
			return s.txns[i], true, nil
		}
	}
	return types.Transaction{}, false, nil
}

func (s *LedgerStore) LatestCheckout(_ context.Context, keyID string) (types.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].KeyID == keyID && s.txns[i].Action == types.TxnCheckout {
			return s.txns[i], true, nil
		}
	}
	return types.Transaction{}, false, nil
}

func (s *LedgerStore) LatestAudit(_ context.Context, p store.AuditProbe) (types.AuditEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		keyName := ""
		if e.KeyName != nil {
			keyName = *e.KeyName
		}
		if e.Action == p.Action && keyName == p.KeyName && e.Actor == p.Actor && e.DeviceID == p.DeviceID {
			return e, true, nil
		}
	}
	return types.AuditEntry{}, false, nil
}

func (s *LedgerStore) RecentTransactions(_ context.Context, limit int) ([]types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Transaction, 0, limit)
	for i := len(s.txns) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.txns[i])
	}
	return out, nil
}

func (s *LedgerStore) RecentAudit(_ context.Context, limit int) ([]types.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuditEntry, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *LedgerStore) ListAlerts(_ context.Context, status types.AlertStatus, limit int) ([]types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Alert, 0)
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if status == "" || s.alerts[i].Status == status {
			out = append(out, s.alerts[i])
		}
	}
	return out, nil
}

func (s *LedgerStore) CountActiveAlerts(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if a.Status == types.AlertActive {
			n++
		}
	}
	return n, nil
}

func (s *LedgerStore) ClearTransactions(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.txns))
	s.txns = nil
	s.keys.resetAll()
	return n, nil
}

// Transactions returns a copy of all recorded transactions in commit order.
// Test-only helper.
func (s *LedgerStore) Transactions() []types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Transaction, len(s.txns))
	copy(out, s.txns)
	return out
}

// Audit returns a copy of all audit entries in append order.  Test-only helper.
func (s *LedgerStore) Audit() []types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// Alerts returns a copy of all alerts in append order.  Test-only helper.
func (s *LedgerStore) Alerts() []types.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}
