package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/keybox/internal/db"
	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

type PrincipalStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPrincipalStore(db *sql.DB, writer *dbpkg.Worker) *PrincipalStore {
	return &PrincipalStore{db: db, writer: writer}
}

const principalColumns = `principal_id, name, card_token, fingerprint_id, role, active`

func (s *PrincipalStore) FindByCard(ctx context.Context, cardToken string) (types.Principal, bool, error) {
	cardToken = strings.ToUpper(strings.TrimSpace(cardToken))
	if cardToken == "" {
		return types.Principal{}, false, nil
	}
	return s.findOne(ctx, `SELECT `+principalColumns+` FROM principals WHERE card_token = ?;`, cardToken)
}

func (s *PrincipalStore) FindByFingerprint(ctx context.Context, fingerprintID string) (types.Principal, bool, error) {
	fingerprintID = strings.TrimSpace(fingerprintID)
	if fingerprintID == "" {
		return types.Principal{}, false, nil
	}
	return s.findOne(ctx, `SELECT `+principalColumns+` FROM principals WHERE fingerprint_id = ?;`, fingerprintID)
}

func (s *PrincipalStore) findOne(ctx context.Context, query string, arg any) (types.Principal, bool, error) {
	var (
		p        types.Principal
		card, fp sql.NullString
		active   int
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&p.ID, &p.Name, &card, &fp, &p.Role, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Principal{}, false, nil
	}
	if err != nil {
		return types.Principal{}, false, fmt.Errorf("find principal: %w", err)
	}
	p.CardToken = card.String
	p.FingerprintID = fp.String
	p.Active = active == 1
	return p, true, nil
}

func (s *PrincipalStore) UpsertPrincipal(ctx context.Context, p types.Principal) error {
	card := strings.ToUpper(strings.TrimSpace(p.CardToken))
	fp := strings.TrimSpace(p.FingerprintID)
	nowMs := toMs(time.Now())

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO principals(
  principal_id, name, card_token, fingerprint_id, role, active, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(principal_id) DO UPDATE SET
  name = excluded.name,
  card_token = excluded.card_token,
  fingerprint_id = excluded.fingerprint_id,
  role = excluded.role,
  active = excluded.active,
  updated_at_ms = excluded.updated_at_ms;
`, p.ID, p.Name, nullString(&card), nullString(&fp), p.Role, boolInt(p.Active), nowMs, nowMs); err != nil {
			return fmt.Errorf("UpsertPrincipal: %w", err)
		}
		return nil
	})
}
