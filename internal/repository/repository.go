package repository

import (
	"context"
	"database/sql"
	"time"

	"shockstream"
	"shockstream/internal/repository/db"
)

type SettingsRepo interface {
	SavePolicy(ctx context.Context, p shockstream.SafetyPolicy) error
	LoadPolicy(ctx context.Context) (*shockstream.SafetyPolicy, error)
}

// HistoryFilter narrows a history listing. Zero values mean "no constraint".
type HistoryFilter struct {
	From     time.Time
	To       time.Time
	DeviceID string
	UserID   string
	Status   string
	Limit    int
}

type HistoryRepo interface {
	Append(ctx context.Context, rec shockstream.CommandRecord) error
	List(ctx context.Context, f HistoryFilter) ([]shockstream.CommandRecord, error)
}

type Repository struct {
	Settings SettingsRepo
	History  HistoryRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Settings: NewSettingsSQLite(db),
		History:  NewHistorySQLite(db),
	}
}

// InitDB opens the SQLite file and ensures the schema exists.
func InitDB(path string) (*sql.DB, error) { return db.InitDB(path) }
