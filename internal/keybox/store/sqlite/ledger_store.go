package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/keybox/internal/db"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// LedgerStore persists transactions, audit entries and alerts.  Rows carry
// an AUTOINCREMENT seq so "most recent" means commit order, not timestamp.
type LedgerStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLedgerStore(db *sql.DB, writer *dbpkg.Worker) *LedgerStore {
	return &LedgerStore{db: db, writer: writer}
}

func (s *LedgerStore) CommitTransition(ctx context.Context, rec store.TransitionRecord) error {
	t := rec.Transaction
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE keys SET state = ?, last_used_at_ms = ? WHERE key_id = ?;
`, string(rec.NewState), toMs(t.Timestamp), rec.KeyID)
		if err != nil {
			return fmt.Errorf("CommitTransition update key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("CommitTransition key %s: %w", rec.KeyID, store.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO key_transactions(
  txn_id, key_id, key_name, actor, credential, action,
  occurred_at_ms, reported_at_ms, device_id, note
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, t.ID, t.KeyID, t.KeyName, t.Actor, nullString(t.Credential), string(t.Action),
			toMs(t.Timestamp), nullTimeMs(t.ReportedAt), t.DeviceID, t.Note); err != nil {
			return fmt.Errorf("CommitTransition insert transaction: %w", err)
		}

		return insertAudit(ctx, tx, rec.Audit)
	})
}

func insertAudit(ctx context.Context, tx *sql.Tx, e types.AuditEntry) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_entries(entry_id, actor, action, key_name, device_id, denied, occurred_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Actor, e.Action, nullString(e.KeyName), e.DeviceID, boolInt(e.Denied), toMs(e.Timestamp)); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *LedgerStore) AppendAudit(ctx context.Context, e types.AuditEntry) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return insertAudit(ctx, tx, e)
	})
}

func (s *LedgerStore) AppendAlert(ctx context.Context, a types.Alert, audit []types.AuditEntry) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO alerts(
  alert_id, device_id, category, severity, status, title, description,
  raised_at_ms, acknowledged_at_ms, resolved_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, a.ID, a.DeviceID, string(a.Category), string(a.Severity), string(a.Status), a.Title, a.Description,
			toMs(a.RaisedAt), nullTimeMs(a.AcknowledgedAt), nullTimeMs(a.ResolvedAt)); err != nil {
			return fmt.Errorf("AppendAlert insert: %w", err)
		}
		for _, e := range audit {
			if err := insertAudit(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *LedgerStore) SetAlertStatus(ctx context.Context, id string, from []types.AlertStatus, status types.AlertStatus, at time.Time) (types.Alert, error) {
	var column string
	switch status {
	case types.AlertAcknowledged:
		column = "acknowledged_at_ms"
	case types.AlertResolved:
		column = "resolved_at_ms"
	default:
		return types.Alert{}, fmt.Errorf("SetAlertStatus: unsupported status %q", status)
	}

	if len(from) == 0 {
		return types.Alert{}, fmt.Errorf("SetAlertStatus: no source status for %q", status)
	}

	args := []any{string(status), toMs(at), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	var out types.Alert
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// The source-status guard lives in the WHERE so a concurrent move
		// between read and write cannot be overwritten.
		res, err := tx.ExecContext(ctx,
			`UPDATE alerts SET status = ?, `+column+` = ? WHERE alert_id = ? AND status IN (`+placeholders+`);`,
			args...)
		if err != nil {
			return fmt.Errorf("SetAlertStatus update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("SetAlertStatus rows: %w", err)
		}
		out, err = scanAlert(tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE alert_id = ?;`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("SetAlertStatus reload: %w", err)
		}
		if n == 0 {
			return store.ErrStaleStatus
		}
		return nil
	})
	return out, err
}

const (
	txnColumns   = `txn_id, key_id, key_name, actor, credential, action, occurred_at_ms, reported_at_ms, device_id, note`
	auditColumns = `entry_id, actor, action, key_name, device_id, denied, occurred_at_ms`
	alertColumns = `alert_id, device_id, category, severity, status, title, description, raised_at_ms, acknowledged_at_ms, resolved_at_ms`
)

func scanTxn(r rowScanner) (types.Transaction, error) {
	var (
		t          types.Transaction
		credential sql.NullString
		action     string
		occurredMs int64
		reportedMs sql.NullInt64
	)
	if err := r.Scan(&t.ID, &t.KeyID, &t.KeyName, &t.Actor, &credential, &action,
		&occurredMs, &reportedMs, &t.DeviceID, &t.Note); err != nil {
		return types.Transaction{}, err
	}
	t.Credential = stringPtr(credential)
	t.Action = types.TxnAction(action)
	t.Timestamp = fromMs(occurredMs)
	t.ReportedAt = timePtr(reportedMs)
	return t, nil
}

func scanAudit(r rowScanner) (types.AuditEntry, error) {
	var (
		e          types.AuditEntry
		keyName    sql.NullString
		denied     int
		occurredMs int64
	)
	if err := r.Scan(&e.ID, &e.Actor, &e.Action, &keyName, &e.DeviceID, &denied, &occurredMs); err != nil {
		return types.AuditEntry{}, err
	}
	e.KeyName = stringPtr(keyName)
	e.Denied = denied == 1
	e.Timestamp = fromMs(occurredMs)
	return e, nil
}

func scanAlert(r rowScanner) (types.Alert, error) {
	var (
		a                     types.Alert
		category, sev, status string
		raisedMs              int64
		ackMs, resolvedMs     sql.NullInt64
	)
	if err := r.Scan(&a.ID, &a.DeviceID, &category, &sev, &status, &a.Title, &a.Description,
		&raisedMs, &ackMs, &resolvedMs); err != nil {
		return types.Alert{}, err
	}
	a.Category = types.AlertCategory(category)
	a.Severity = types.Severity(sev)
	a.Status = types.AlertStatus(status)
	a.RaisedAt = fromMs(raisedMs)
	a.AcknowledgedAt = timePtr(ackMs)
	a.ResolvedAt = timePtr(resolvedMs)
	return a, nil
}

func (s *LedgerStore) GetAlert(ctx context.Context, id string) (types.Alert, bool, error) {
	a, err := scanAlert(s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE alert_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Alert{}, false, nil
	}
	if err != nil {
		return types.Alert{}, false, fmt.Errorf("GetAlert: %w", err)
	}
	return a, true, nil
}

func (s *LedgerStore) latestTxn(ctx context.Context, query string, args ...any) (types.Transaction, bool, error) {
	t, err := scanTxn(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Transaction{}, false, nil
	}
	if err != nil {
		return types.Transaction{}, false, fmt.Errorf("latest transaction: %w", err)
	}
	return t, true, nil
}

func (s *LedgerStore) LatestTransaction(ctx context.Context, keyID string) (types.Transaction, bool, error) {
	return s.latestTxn(ctx, `
SELECT `+txnColumns+` FROM key_transactions
WHERE key_id = ?
ORDER BY seq DESC LIMIT 1;`, keyID)
}

func (s *LedgerStore) LatestCheckout(ctx context.Context, keyID string) (types.Transaction, bool, error) {
	return s.latestTxn(ctx, `
SELECT `+txnColumns+` FROM key_transactions
WHERE key_id = ? AND action = 'checkout'
ORDER BY seq DESC LIMIT 1;`, keyID)
}

func (s *LedgerStore) LatestAudit(ctx context.Context, p store.AuditProbe) (types.AuditEntry, bool, error) {
	e, err := scanAudit(s.db.QueryRowContext(ctx, `
SELECT `+auditColumns+` FROM audit_entries
WHERE action = ? AND device_id = ? AND actor = ? AND COALESCE(key_name, '') = ?
ORDER BY seq DESC LIMIT 1;`, p.Action, p.DeviceID, p.Actor, p.KeyName))
	if errors.Is(err, sql.ErrNoRows) {
		return types.AuditEntry{}, false, nil
	}
	if err != nil {
		return types.AuditEntry{}, false, fmt.Errorf("LatestAudit: %w", err)
	}
	return e, true, nil
}

func (s *LedgerStore) RecentTransactions(ctx context.Context, limit int) ([]types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+txnColumns+` FROM key_transactions ORDER BY seq DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentTransactions query: %w", err)
	}
	defer rows.Close()

	out := make([]types.Transaction, 0, limit)
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("RecentTransactions scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *LedgerStore) RecentAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+auditColumns+` FROM audit_entries ORDER BY seq DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentAudit query: %w", err)
	}
	defer rows.Close()

	out := make([]types.AuditEntry, 0, limit)
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("RecentAudit scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListAlerts(ctx context.Context, status types.AlertStatus, limit int) ([]types.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY seq DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListAlerts query: %w", err)
	}
	defer rows.Close()

	out := make([]types.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAlerts scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LedgerStore) CountActiveAlerts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = 'active';`).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountActiveAlerts: %w", err)
	}
	return n, nil
}

func (s *LedgerStore) ClearTransactions(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM key_transactions;`)
		if err != nil {
			return fmt.Errorf("ClearTransactions: %w", err)
		}
		deleted, _ = res.RowsAffected()

		// With no transactions left no key can be held.
		if _, err := tx.ExecContext(ctx, `UPDATE keys SET state = 'available';`); err != nil {
			return fmt.Errorf("ClearTransactions reset keys: %w", err)
		}
		return nil
	})
	return deleted, err
}
