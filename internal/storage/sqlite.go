package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			subject TEXT NOT NULL,
			from_category TEXT NOT NULL,
			to_category TEXT NOT NULL,
			from_state INTEGER NOT NULL,
			to_state INTEGER NOT NULL,
			mean REAL NOT NULL,
			samples INTEGER NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions(ts)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			subject TEXT NOT NULL,
			state INTEGER NOT NULL,
			category TEXT NOT NULL,
			mean REAL NOT NULL,
			samples INTEGER NOT NULL,
			required INTEGER NOT NULL,
			sufficient INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_subject_ts ON snapshots(subject, ts)`,
	},
	insertTransition: `INSERT INTO transitions (id, ts, subject, from_category, to_category, from_state, to_state, mean, samples, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	insertSnapshot: `INSERT INTO snapshots (ts, subject, state, category, mean, samples, required, sufficient)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	recentTransition: `SELECT id, ts, subject, from_category, to_category, from_state, to_state, mean, samples, reason
		FROM transitions ORDER BY ts DESC LIMIT ?`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:agesignal.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps writes serialized and lets ":memory:" DSNs
	// share one database.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, d: sqliteDialect}}, nil
}
