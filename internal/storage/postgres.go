package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			subject TEXT NOT NULL,
			from_category TEXT NOT NULL,
			to_category TEXT NOT NULL,
			from_state INTEGER NOT NULL,
			to_state INTEGER NOT NULL,
			mean DOUBLE PRECISION NOT NULL,
			samples INTEGER NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions(ts)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			subject TEXT NOT NULL,
			state INTEGER NOT NULL,
			category TEXT NOT NULL,
			mean DOUBLE PRECISION NOT NULL,
			samples INTEGER NOT NULL,
			required INTEGER NOT NULL,
			sufficient BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_subject_ts ON snapshots(subject, ts)`,
	},
	insertTransition: `INSERT INTO transitions (id, ts, subject, from_category, to_category, from_state, to_state, mean, samples, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	insertSnapshot: `INSERT INTO snapshots (ts, subject, state, category, mean, samples, required, sufficient)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	recentTransition: `SELECT id::text, ts, subject, from_category, to_category, from_state, to_state, mean, samples, reason
		FROM transitions ORDER BY ts DESC LIMIT $1`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/agesignal?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, d: postgresDialect}}, nil
}
