package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// TransitionRecord is everything one accepted checkout/checkin writes.
// Implementations must apply it atomically: key state + last-used,
// transaction row and audit row.
type TransitionRecord struct {
	KeyID       string
	NewState    types.KeyState
	Transaction types.Transaction
	Audit       types.AuditEntry
}

// AuditProbe selects the most recent audit entry for dedup purposes.
// Empty KeyName matches entries without a key.
type AuditProbe struct {
	Action   string
	KeyName  string
	Actor    string
	DeviceID string
}

// LedgerStore is the append-only ledger: transactions, audit entries and
// alerts.
type LedgerStore interface {
	CommitTransition(ctx context.Context, rec TransitionRecord) error
	AppendAudit(ctx context.Context, e types.AuditEntry) error
	AppendAlert(ctx context.Context, a types.Alert, audit []types.AuditEntry) error
	// SetAlertStatus moves the alert to status only if it is currently in
	// one of from.  Otherwise it returns the alert as stored with
	// ErrStaleStatus.
	SetAlertStatus(ctx context.Context, id string, from []types.AlertStatus, status types.AlertStatus, at time.Time) (types.Alert, error)

	GetAlert(ctx context.Context, id string) (types.Alert, bool, error)
	LatestTransaction(ctx context.Context, keyID string) (types.Transaction, bool, error)
	LatestCheckout(ctx context.Context, keyID string) (types.Transaction, bool, error)
	LatestAudit(ctx context.Context, probe AuditProbe) (types.AuditEntry, bool, error)
	RecentTransactions(ctx context.Context, limit int) ([]types.Transaction, error)
	RecentAudit(ctx context.Context, limit int) ([]types.AuditEntry, error)
	ListAlerts(ctx context.Context, status types.AlertStatus, limit int) ([]types.Alert, error)
	CountActiveAlerts(ctx context.Context) (int, error)

	// ClearTransactions is the administrative bulk-clear.  It returns the
	// number of transactions removed.
	ClearTransactions(ctx context.Context) (int64, error)
}
