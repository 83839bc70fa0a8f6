package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"shockstream"

	"github.com/google/uuid"
)

type HistorySQLite struct {
	db *sql.DB
}

func NewHistorySQLite(db *sql.DB) *HistorySQLite { return &HistorySQLite{db: db} }

const defaultHistoryLimit = 100

// Append inserts a terminal command record. If ID or CompletedAt are empty,
// they're set.
func (r *HistorySQLite) Append(ctx context.Context, rec shockstream.CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	} else {
		rec.CompletedAt = rec.CompletedAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_history
			(id, device_id, user_id, type, intensity, duration_ms,
			 capped_intensity, capped_duration, source, status, error,
			 enqueued_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.DeviceID,
		rec.UserID,
		string(rec.Type),
		rec.Intensity,
		rec.DurationMs,
		rec.CappedIntensity,
		rec.CappedDuration,
		rec.Source,
		string(rec.Status),
		rec.Error,
		rec.EnqueuedAt.UTC(),
		rec.CompletedAt,
	)
	return err
}

// List returns records matching the filter, most recent first. Limit defaults
// to 100 when unset.
func (r *HistorySQLite) List(ctx context.Context, f HistoryFilter) ([]shockstream.CommandRecord, error) {
	var (
		conds []string
		args  []any
	)

	if !f.From.IsZero() {
		conds = append(conds, "completed_at >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		conds = append(conds, "completed_at <= ?")
		args = append(args, f.To.UTC())
	}
	if f.DeviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if s := strings.TrimSpace(f.Status); s != "" {
		conds = append(conds, "status = ?")
		args = append(args, s)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	q := `SELECT id, device_id, user_id, type, intensity, duration_ms,
		capped_intensity, capped_duration, source, status, error,
		enqueued_at, completed_at FROM command_history`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY completed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]shockstream.CommandRecord, 0, 64)
	for rows.Next() {
		var rec shockstream.CommandRecord
		var typ, status string
		if err := rows.Scan(
			&rec.ID,
			&rec.DeviceID,
			&rec.UserID,
			&typ,
			&rec.Intensity,
			&rec.DurationMs,
			&rec.CappedIntensity,
			&rec.CappedDuration,
			&rec.Source,
			&status,
			&rec.Error,
			&rec.EnqueuedAt,
			&rec.CompletedAt,
		); err != nil {
			return nil, err
		}
		rec.Type = shockstream.CommandType(typ)
		rec.Status = shockstream.QueueStatus(status)
		rec.EnqueuedAt = rec.EnqueuedAt.UTC()
		rec.CompletedAt = rec.CompletedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
