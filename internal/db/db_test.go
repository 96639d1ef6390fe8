package db_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/keybox/internal/db"
)

func openFileDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "keybox.db")
	conn, err := db.Open(context.Background(), db.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = os.Stat(path)
	require.NoError(t, err)
	return conn
}

func count(t *testing.T, conn *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	conn := openFileDB(t)

	require.NoError(t, db.Migrate(context.Background(), conn))
	assert.Equal(t, 0, count(t, conn, "keys"))
	assert.Equal(t, 1, count(t, conn, "schema_migrations"))
}

func TestSeedDev_DefaultStarterKey(t *testing.T) {
	conn := openFileDB(t)
	ctx := context.Background()

	require.NoError(t, db.SeedDev(ctx, conn, db.SeedDevOptions{}))
	require.NoError(t, db.SeedDev(ctx, conn, db.SeedDevOptions{}))

	var name, state string
	require.NoError(t, conn.QueryRow("SELECT name, state FROM keys").Scan(&name, &state))
	assert.Equal(t, "Key 1", name)
	assert.Equal(t, "available", state)
	assert.Equal(t, 1, count(t, conn, "keys"))
}

func TestSeedDev_FromYAML(t *testing.T) {
	conn := openFileDB(t)
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
principals:
  - id: p-alice
    name: Alice
    card_token: aa11bb22
  - id: p-old
    name: Former Staff
    card_token: ee55ff66
    active: false
keys:
  - name: Key 7
    token: 04A1B2
  - name: Master
`), 0o600))

	require.NoError(t, db.SeedDev(context.Background(), conn, db.SeedDevOptions{File: seed}))

	assert.Equal(t, 2, count(t, conn, "principals"))
	assert.Equal(t, 2, count(t, conn, "keys"))

	var card string
	var active int
	require.NoError(t, conn.QueryRow(
		"SELECT card_token, active FROM principals WHERE principal_id = 'p-old'").Scan(&card, &active))
	assert.Equal(t, "EE55FF66", card)
	assert.Equal(t, 0, active)
}

func TestSeedDev_RejectsIncompletePrincipal(t *testing.T) {
	conn := openFileDB(t)
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte("principals:\n  - name: NoID\n"), 0o600))

	err := db.SeedDev(context.Background(), conn, db.SeedDevOptions{File: seed})
	assert.Error(t, err)
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openFileDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)

	boom := errors.New("boom")
	err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keys(key_id, name, state, active, created_at_ms) VALUES ('k1', 'Key 1', 'available', 1, 0)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, conn, "keys"))
}

func TestWorker_ClosedRejectsJobs(t *testing.T) {
	conn := openFileDB(t)
	w := db.NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, db.ErrWorkerClosed)
}

func TestWorker_StartedJobCommitsAfterCallerCancels(t *testing.T) {
	conn := openFileDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)

	ctx, cancel := context.WithCancel(context.Background())
	started, release := make(chan struct{}), make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
			close(started)
			<-release
			_, err := tx.ExecContext(ctx,
				`INSERT INTO keys(key_id, name, state, active, created_at_ms) VALUES ('k1', 'Key 1', 'available', 1, 0)`)
			return err
		})
	}()

	<-started
	cancel()
	close(release)

	require.NoError(t, <-result)
	assert.Equal(t, 1, count(t, conn, "keys"))
}

func TestWorker_CancelledBeforeStartWritesNothing(t *testing.T) {
	conn := openFileDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)

	started, release := make(chan struct{}), make(chan struct{})
	blocker := make(chan error, 1)
	go func() {
		blocker <- w.Do(context.Background(), func(context.Context, *sql.Tx) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	queued := make(chan error, 1)
	go func() {
		queued <- w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO keys(key_id, name, state, active, created_at_ms) VALUES ('k2', 'Key 2', 'available', 1, 0)`)
			return err
		})
	}()
	close(release)

	require.NoError(t, <-blocker)
	assert.ErrorIs(t, <-queued, context.Canceled)
	assert.Equal(t, 0, count(t, conn, "keys"))
}

func TestOpen_RecordsMigrationName(t *testing.T) {
	conn := openFileDB(t)

	var name string
	require.NoError(t, conn.QueryRow("SELECT name FROM schema_migrations WHERE version = 1").Scan(&name))
	assert.Equal(t, "0001_init.sql", name)
}
