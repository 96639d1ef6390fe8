package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// DedupWindow is how long a repeated report is treated as the same event.
const DedupWindow = 5 * time.Second

// DedupGuard suppresses bouncing sensors and hardware retries by looking at
// the most recent ledger entry for the same action and key.  It only reads.
type DedupGuard struct {
	ledger store.LedgerStore
	window time.Duration
	now    func() time.Time
}

func NewDedupGuard(ls store.LedgerStore, now func() time.Time) *DedupGuard {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DedupGuard{ledger: ls, window: DedupWindow, now: now}
}

// DuplicateTransaction returns the already-recorded transaction when the
// key's latest transaction has the same action, actor and credential and
// falls inside the window.
func (g *DedupGuard) DuplicateTransaction(
	ctx context.Context,
	keyID string,
	action types.TxnAction,
	actor string,
	credential *string,
) (types.Transaction, bool, error) {
	last, ok, err := g.ledger.LatestTransaction(ctx, keyID)
	if err != nil || !ok {
		return types.Transaction{}, false, err
	}
	if last.Action != action || last.Actor != actor || !sameCredential(last.Credential, credential) {
		return types.Transaction{}, false, nil
	}
	if !g.within(last.Timestamp) {
		return types.Transaction{}, false, nil
	}
	return last, true, nil
}

// DuplicateAudit reports whether an identical audit entry was recorded
// inside the window.
func (g *DedupGuard) DuplicateAudit(ctx context.Context, probe store.AuditProbe) (bool, error) {
	last, ok, err := g.ledger.LatestAudit(ctx, probe)
	if err != nil || !ok {
		return false, err
	}
	return g.within(last.Timestamp), nil
}

func (g *DedupGuard) within(t time.Time) bool {
	return g.now().Sub(t) <= g.window
}

func sameCredential(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
