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

type KeyStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewKeyStore(db *sql.DB, writer *dbpkg.Worker) *KeyStore {
	return &KeyStore{db: db, writer: writer}
}

const keyColumns = `key_id, name, token, state, active, last_used_at_ms, created_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(r rowScanner) (types.Key, error) {
	var (
		k         types.Key
		token     sql.NullString
		state     string
		active    int
		lastUsed  sql.NullInt64
		createdMs int64
	)
	if err := r.Scan(&k.ID, &k.Name, &token, &state, &active, &lastUsed, &createdMs); err != nil {
		return types.Key{}, err
	}
	k.Token = stringPtr(token)
	k.State = types.KeyState(state)
	k.Active = active == 1
	k.LastUsedAt = timePtr(lastUsed)
	k.CreatedAt = fromMs(createdMs)
	return k, nil
}

func (s *KeyStore) findOne(ctx context.Context, where string, arg any) (types.Key, bool, error) {
	k, err := scanKey(s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM keys WHERE `+where+`;`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Key{}, false, nil
	}
	if err != nil {
		return types.Key{}, false, fmt.Errorf("find key: %w", err)
	}
	return k, true, nil
}

func (s *KeyStore) GetKey(ctx context.Context, id string) (types.Key, bool, error) {
	return s.findOne(ctx, `key_id = ?`, id)
}

// name and token columns are COLLATE NOCASE.

func (s *KeyStore) FindByName(ctx context.Context, name string) (types.Key, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Key{}, false, nil
	}
	return s.findOne(ctx, `name = ?`, name)
}

func (s *KeyStore) FindByToken(ctx context.Context, token string) (types.Key, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.Key{}, false, nil
	}
	return s.findOne(ctx, `token = ?`, token)
}

func (s *KeyStore) CreateKey(ctx context.Context, k types.Key) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	if k.State == "" {
		k.State = types.KeyAvailable
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var taken int
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM keys WHERE name = ? OR (token IS NOT NULL AND token = ?);
`, k.Name, nullString(k.Token)).Scan(&taken); err != nil {
			return fmt.Errorf("CreateKey check: %w", err)
		}
		if taken > 0 {
			return store.ErrConflict
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO keys(key_id, name, token, state, active, last_used_at_ms, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, k.ID, k.Name, nullString(k.Token), string(k.State), boolInt(k.Active),
			nullTimeMs(k.LastUsedAt), toMs(k.CreatedAt)); err != nil {
			return fmt.Errorf("CreateKey insert: %w", err)
		}
		return nil
	})
}

func (s *KeyStore) ListKeys(ctx context.Context) ([]types.Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM keys ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("ListKeys query: %w", err)
	}
	defer rows.Close()

	var out []types.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("ListKeys scan: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListKeys iterate: %w", err)
	}
	return out, nil
}
