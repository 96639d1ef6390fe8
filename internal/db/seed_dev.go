package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type SeedDevOptions struct {
	// File is an optional YAML fixture of principals and keys.  When empty a
	// single starter key is created.
	File string
}

type seedFile struct {
	Principals []seedPrincipal `yaml:"principals"`
	Keys       []seedKey       `yaml:"keys"`
}

type seedPrincipal struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	CardToken     string `yaml:"card_token"`
	FingerprintID string `yaml:"fingerprint_id"`
	Role          string `yaml:"role"`
	Active        *bool  `yaml:"active"`
}

type seedKey struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// loadSeedFile parses a dev fixture.
func loadSeedFile(path string) (seedFile, error) {
	var f seedFile
	b, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read seed file: %w", err)
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return f, nil
}

// SeedDev inserts fixture principals and keys.  Existing rows win, so it is
// safe to run on every dev start.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	f := seedFile{Keys: []seedKey{{Name: "Key 1"}}}
	if opt.File != "" {
		loaded, err := loadSeedFile(opt.File)
		if err != nil {
			return err
		}
		f = loaded
	}

	now := time.Now().UTC().UnixMilli()

	for _, p := range f.Principals {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("seed principal: id and name are required")
		}
		active := 1
		if p.Active != nil && !*p.Active {
			active = 0
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO principals(
  principal_id, name, card_token, fingerprint_id, role, active, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
			p.ID, p.Name,
			nullIfEmpty(strings.ToUpper(strings.TrimSpace(p.CardToken))),
			nullIfEmpty(strings.TrimSpace(p.FingerprintID)),
			p.Role, active, now, now,
		); err != nil {
			return fmt.Errorf("seed principal %s: %w", p.ID, err)
		}
	}

	for _, k := range f.Keys {
		if strings.TrimSpace(k.Name) == "" {
			return fmt.Errorf("seed key: name is required")
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO keys(key_id, name, token, state, active, created_at_ms)
VALUES (?, ?, ?, 'available', 1, ?);`,
			uuid.NewString(), strings.TrimSpace(k.Name), nullIfEmpty(strings.TrimSpace(k.Token)), now,
		); err != nil {
			return fmt.Errorf("seed key %s: %w", k.Name, err)
		}
	}

	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
