package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"shockstream"
)

type SettingsSQLite struct {
	db *sql.DB
}

func NewSettingsSQLite(db *sql.DB) *SettingsSQLite {
	return &SettingsSQLite{db: db}
}

// constants and helpers for clarity and reuse
const (
	safetySettingsRowID = 1

	insertOrUpdateSettingsSQL = `
		INSERT INTO safety_settings (id, policy, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy=excluded.policy,
			updated_at=excluded.updated_at
	`

	selectSettingsSQL = `
		SELECT policy FROM safety_settings WHERE id=?
	`
)

// SavePolicy updates or inserts the safety_settings row (id always 1). The
// full policy is stored as one JSON document so schema changes never need a
// migration.
func (r *SettingsSQLite) SavePolicy(ctx context.Context, p shockstream.SafetyPolicy) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertOrUpdateSettingsSQL,
		safetySettingsRowID,
		string(body),
		time.Now().UTC(),
	)
	return err
}

// LoadPolicy fetches the single safety_settings row (id=1). Returns nil when
// no policy has been saved yet so the caller can fall back to defaults.
func (r *SettingsSQLite) LoadPolicy(ctx context.Context) (*shockstream.SafetyPolicy, error) {
	row := r.db.QueryRowContext(ctx, selectSettingsSQL, safetySettingsRowID)

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no policy yet
		}
		return nil, err
	}

	var p shockstream.SafetyPolicy
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
