package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
	sqlitestore "github.com/BrandonDHaskell/keybox/internal/keybox/store/sqlite"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

type ledgerFixture struct {
	conn   *sql.DB
	keys   *sqlitestore.KeyStore
	ledger *sqlitestore.LedgerStore
}

func newLedgerFixture(t *testing.T) ledgerFixture {
	t.Helper()
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	f := ledgerFixture{
		conn:   conn,
		keys:   sqlitestore.NewKeyStore(conn, w),
		ledger: sqlitestore.NewLedgerStore(conn, w),
	}
	require.NoError(t, f.keys.CreateKey(context.Background(), types.Key{
		ID: "k-1", Name: "Key 1", State: types.KeyAvailable, Active: true,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	return f
}

func transition(id string, action types.TxnAction, actor string, at time.Time) store.TransitionRecord {
	name := "Key 1"
	return store.TransitionRecord{
		KeyID:    "k-1",
		NewState: action.ResultingState(),
		Transaction: types.Transaction{
			ID: id, KeyID: "k-1", KeyName: name, Actor: actor,
			Action: action, Timestamp: at, DeviceID: "keybox-01",
		},
		Audit: types.AuditEntry{
			ID: "a-" + id, Actor: actor, Action: "key_" + string(action),
			KeyName: &name, DeviceID: "keybox-01", Timestamp: at,
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// CommitTransition
// ═══════════════════════════════════════════════════════════════════════════

func TestLedgerStore_CommitTransition_WritesAllThree(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	reported := at.Add(-2 * time.Second)

	rec := transition("t-1", types.TxnCheckout, "Alice", at)
	rec.Transaction.Credential = strPtr("AA11BB22")
	rec.Transaction.ReportedAt = &reported
	require.NoError(t, f.ledger.CommitTransition(ctx, rec))

	k, ok, err := f.keys.GetKey(ctx, "k-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.KeyCheckedOut, k.State)
	require.NotNil(t, k.LastUsedAt)
	assert.Equal(t, at, *k.LastUsedAt)

	txn, ok, err := f.ledger.LatestTransaction(ctx, "k-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t-1", txn.ID)
	assert.Equal(t, "Alice", txn.Actor)
	require.NotNil(t, txn.Credential)
	assert.Equal(t, "AA11BB22", *txn.Credential)
	require.NotNil(t, txn.ReportedAt)
	assert.Equal(t, reported, *txn.ReportedAt)

	audit, err := f.ledger.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "key_checkout", audit[0].Action)
}

func TestLedgerStore_CommitTransition_UnknownKeyWritesNothing(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	rec := transition("t-1", types.TxnCheckout, "Alice", time.Now().UTC())
	rec.KeyID = "k-missing"
	err := f.ledger.CommitTransition(ctx, rec)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	txns, err := f.ledger.RecentTransactions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, txns)
	audit, err := f.ledger.RecentAudit(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestLedgerStore_LatestQueries(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, f.ledger.CommitTransition(ctx, transition("t-1", types.TxnCheckout, "Alice", at)))
	require.NoError(t, f.ledger.CommitTransition(ctx, transition("t-2", types.TxnCheckin, "Alice", at.Add(time.Minute))))
	require.NoError(t, f.ledger.CommitTransition(ctx, transition("t-3", types.TxnCheckout, "Bob", at.Add(2*time.Minute))))
	require.NoError(t, f.ledger.CommitTransition(ctx, transition("t-4", types.TxnCheckin, "Bob", at.Add(3*time.Minute))))

	last, ok, err := f.ledger.LatestTransaction(ctx, "k-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t-4", last.ID)

	co, ok, err := f.ledger.LatestCheckout(ctx, "k-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t-3", co.ID)
	assert.Equal(t, "Bob", co.Actor)

	recent, err := f.ledger.RecentTransactions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t-4", recent[0].ID)
	assert.Equal(t, "t-3", recent[1].ID)

	e, ok, err := f.ledger.LatestAudit(ctx, store.AuditProbe{Action: "key_checkout", KeyName: "Key 1", Actor: "Alice", DeviceID: "keybox-01"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a-t-1", e.ID)

	_, ok, err = f.ledger.LatestAudit(ctx, store.AuditProbe{Action: "key_checkout", KeyName: "Key 1", Actor: "Carol", DeviceID: "keybox-01"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerStore_LatestAudit_NoKeyName(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.AppendAudit(ctx, types.AuditEntry{
		ID: "a-1", Actor: "Alice", Action: "door_unlocked", DeviceID: "keybox-01", Timestamp: time.Now().UTC(),
	}))

	e, ok, err := f.ledger.LatestAudit(ctx, store.AuditProbe{Action: "door_unlocked", Actor: "Alice", DeviceID: "keybox-01"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, e.KeyName)
}

func TestLedgerStore_ClearTransactions(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, f.ledger.CommitTransition(ctx, transition("t-1", types.TxnCheckout, "Alice", at)))

	n, err := f.ledger.ClearTransactions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, ok, err := f.ledger.LatestTransaction(ctx, "k-1")
	require.NoError(t, err)
	assert.False(t, ok)

	k, _, err := f.keys.GetKey(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, types.KeyAvailable, k.State)
}

// ═══════════════════════════════════════════════════════════════════════════
// Alerts
// ═══════════════════════════════════════════════════════════════════════════

func TestLedgerStore_AlertLifecycle(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	raised := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	a := types.Alert{
		ID: "al-1", DeviceID: "keybox-01", Category: types.AlertTamper, Severity: types.SeverityCritical,
		Status: types.AlertActive, Title: "Enclosure opened", RaisedAt: raised,
	}
	audit := []types.AuditEntry{
		{ID: "a-1", Actor: "Unknown", Action: "alert:tamper", DeviceID: "keybox-01", Denied: true, Timestamp: raised},
		{ID: "a-2", Actor: "system", Action: "critical_alert", DeviceID: "keybox-01", Denied: true, Timestamp: raised},
	}
	require.NoError(t, f.ledger.AppendAlert(ctx, a, audit))

	n, err := f.ledger.CountActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := f.ledger.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a-2", entries[0].ID)
	assert.True(t, entries[0].Denied)

	ackAt := raised.Add(time.Minute)
	got, err := f.ledger.SetAlertStatus(ctx, "al-1", []types.AlertStatus{types.AlertActive}, types.AlertAcknowledged, ackAt)
	require.NoError(t, err)
	assert.Equal(t, types.AlertAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedAt)
	assert.Equal(t, ackAt, *got.AcknowledgedAt)
	assert.Nil(t, got.ResolvedAt)

	active, err := f.ledger.ListAlerts(ctx, types.AlertActive, 10)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := f.ledger.ListAlerts(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.ledger.SetAlertStatus(ctx, "nope", []types.AlertStatus{types.AlertActive}, types.AlertResolved, ackAt)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Already acknowledged: a second acknowledge from active must not apply.
	current, err := f.ledger.SetAlertStatus(ctx, "al-1", []types.AlertStatus{types.AlertActive}, types.AlertAcknowledged, ackAt.Add(time.Minute))
	assert.True(t, errors.Is(err, store.ErrStaleStatus))
	assert.Equal(t, types.AlertAcknowledged, current.Status)
	assert.Equal(t, ackAt, *current.AcknowledgedAt)

	resolveAt := ackAt.Add(2 * time.Minute)
	got, err = f.ledger.SetAlertStatus(ctx, "al-1", []types.AlertStatus{types.AlertActive, types.AlertAcknowledged}, types.AlertResolved, resolveAt)
	require.NoError(t, err)
	assert.Equal(t, types.AlertResolved, got.Status)

	current, err = f.ledger.SetAlertStatus(ctx, "al-1", []types.AlertStatus{types.AlertActive}, types.AlertAcknowledged, resolveAt)
	assert.True(t, errors.Is(err, store.ErrStaleStatus))
	assert.Equal(t, types.AlertResolved, current.Status)
	assert.Equal(t, ackAt, *current.AcknowledgedAt)

	fetched, ok, err := f.ledger.GetAlert(ctx, "al-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Enclosure opened", fetched.Title)
	assert.Equal(t, raised, fetched.RaisedAt)
}
