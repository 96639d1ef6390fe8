package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// summaryAuditDepth is how many audit entries the summary carries.
const summaryAuditDepth = 10

// Broadcaster receives a fresh summary after every ledger write.
type Broadcaster interface {
	Broadcast(ctx context.Context, s types.Summary) error
}

// Ledger is the only writer of transactions, audit entries and alerts.
// Every successful append triggers a summary broadcast; a broadcast failure
// is logged and never undoes the write.
type Ledger struct {
	store       store.LedgerStore
	keys        store.KeyStore
	broadcaster Broadcaster
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewLedger(ls store.LedgerStore, ks store.KeyStore, b Broadcaster, logger logrus.FieldLogger) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ledger{
		store:       ls,
		keys:        ks,
		broadcaster: b,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AppendTransaction commits the key state change, its transaction and the
// matching audit entry as one unit.
func (l *Ledger) AppendTransaction(ctx context.Context, rec store.TransitionRecord) error {
	if err := l.store.CommitTransition(ctx, rec); err != nil {
		return err
	}
	l.notify(ctx)
	return nil
}

func (l *Ledger) AppendAudit(ctx context.Context, e types.AuditEntry) error {
	if err := l.store.AppendAudit(ctx, e); err != nil {
		return err
	}
	l.notify(ctx)
	return nil
}

func (l *Ledger) AppendAlert(ctx context.Context, a types.Alert, audit []types.AuditEntry) error {
	if err := l.store.AppendAlert(ctx, a, audit); err != nil {
		return err
	}
	l.notify(ctx)
	return nil
}

// SetAlertStatus is a conditional move; on store.ErrStaleStatus the alert
// is returned as it currently stands.
func (l *Ledger) SetAlertStatus(ctx context.Context, id string, from []types.AlertStatus, status types.AlertStatus) (types.Alert, error) {
	a, err := l.store.SetAlertStatus(ctx, id, from, status, l.now())
	if err != nil {
		return a, err
	}
	l.notify(ctx)
	return a, nil
}

// ClearTransactions removes every transaction and returns all keys to
// available so key state keeps agreeing with the (now empty) history.
func (l *Ledger) ClearTransactions(ctx context.Context) (int64, error) {
	n, err := l.store.ClearTransactions(ctx)
	if err != nil {
		return 0, err
	}
	l.logger.WithField("removed", n).Warn("ledger: transactions cleared")
	l.notify(ctx)
	return n, nil
}

func (l *Ledger) RecentTransactions(ctx context.Context, limit int) ([]types.Transaction, error) {
	return l.store.RecentTransactions(ctx, limit)
}

func (l *Ledger) RecentAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	return l.store.RecentAudit(ctx, limit)
}

func (l *Ledger) ListAlerts(ctx context.Context, status types.AlertStatus, limit int) ([]types.Alert, error) {
	return l.store.ListAlerts(ctx, status, limit)
}

func (l *Ledger) Summary(ctx context.Context) (types.Summary, error) {
	keys, err := l.keys.ListKeys(ctx)
	if err != nil {
		return types.Summary{}, err
	}
	s := types.Summary{TotalKeys: len(keys), GeneratedAt: l.now()}
	for _, k := range keys {
		if k.State == types.KeyCheckedOut {
			s.CheckedOutKeys++
		} else {
			s.AvailableKeys++
		}
	}

	if s.ActiveAlerts, err = l.store.CountActiveAlerts(ctx); err != nil {
		return types.Summary{}, err
	}

	last, err := l.store.RecentTransactions(ctx, 1)
	if err != nil {
		return types.Summary{}, err
	}
	if len(last) == 1 {
		s.LastTransaction = &last[0]
	}

	if s.RecentAudit, err = l.store.RecentAudit(ctx, summaryAuditDepth); err != nil {
		return types.Summary{}, err
	}
	return s, nil
}

func (l *Ledger) notify(ctx context.Context) {
	if l.broadcaster == nil {
		return
	}
	s, err := l.Summary(ctx)
	if err != nil {
		l.logger.WithError(err).Warn("ledger: build summary for broadcast")
		return
	}
	if err := l.broadcaster.Broadcast(ctx, s); err != nil {
		l.logger.WithError(err).Warn("ledger: broadcast summary")
	}
}

func (l *Ledger) LatestCheckout(ctx context.Context, keyID string) (types.Transaction, bool, error) {
	return l.store.LatestCheckout(ctx, keyID)
}
