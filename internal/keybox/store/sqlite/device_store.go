package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/keybox/internal/db"
	"github.com/BrandonDHaskell/keybox/internal/keybox/store"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

// MarkSeen: ensure the device row exists and update its snapshot.  Empty
// firmware/ip keep the previous values.
func (s *DeviceStore) MarkSeen(ctx context.Context, rec store.DeviceRecord) error {
	deviceID := strings.TrimSpace(rec.DeviceID)
	if deviceID == "" {
		return nil
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	ms := toMs(rec.LastSeen)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO devices(
  device_id, last_seen_at_ms, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?);
`, deviceID, ms, ms, ms); err != nil {
			return fmt.Errorf("MarkSeen insert device: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE devices
SET last_seen_at_ms  = ?,
    firmware_version = CASE WHEN ? = '' THEN firmware_version ELSE ? END,
    last_ip          = CASE WHEN ? = '' THEN last_ip ELSE ? END,
    lost_alerted     = 0,
    updated_at_ms    = ?
WHERE device_id = ?;
`, ms, rec.FirmwareVersion, rec.FirmwareVersion, rec.IP, rec.IP, ms, deviceID); err != nil {
			return fmt.Errorf("MarkSeen update device: %w", err)
		}

		return nil
	})
}

func (s *DeviceStore) ListStale(ctx context.Context, cutoff time.Time) ([]store.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT device_id, firmware_version, last_ip, last_seen_at_ms
FROM devices
WHERE lost_alerted = 0 AND last_seen_at_ms < ?
ORDER BY device_id;
`, toMs(cutoff))
	if err != nil {
		return nil, fmt.Errorf("ListStale query: %w", err)
	}
	defer rows.Close()

	var out []store.DeviceRecord
	for rows.Next() {
		var (
			d      store.DeviceRecord
			seenMs int64
		)
		if err := rows.Scan(&d.DeviceID, &d.FirmwareVersion, &d.IP, &seenMs); err != nil {
			return nil, fmt.Errorf("ListStale scan: %w", err)
		}
		d.LastSeen = fromMs(seenMs)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *DeviceStore) MarkLost(ctx context.Context, deviceID string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE devices SET lost_alerted = 1, updated_at_ms = ? WHERE device_id = ?;
`, toMs(time.Now()), deviceID)
		if err != nil {
			return fmt.Errorf("MarkLost: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}
