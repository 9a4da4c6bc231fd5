package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveTransition(ctx context.Context, tr model.Transition) error
	SaveSnapshots(ctx context.Context, snaps []model.Snapshot) error
	RecentTransitions(ctx context.Context, limit int) ([]model.Transition, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect carries the SQL that differs between drivers.
type dialect struct {
	schema           []string
	insertTransition string
	insertSnapshot   string
	recentTransition string
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) SaveTransition(ctx context.Context, tr model.Transition) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.d.insertTransition,
		tr.ID,
		tr.Timestamp.UTC(),
		tr.Subject,
		tr.From,
		tr.To,
		tr.FromState,
		tr.ToState,
		tr.Mean,
		tr.Count,
		string(tr.Reason),
	)
	return err
}

func (b *baseStore) SaveSnapshots(ctx context.Context, snaps []model.Snapshot) error {
	if b.db == nil || len(snaps) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.d.insertSnapshot)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, snap := range snaps {
		ts := snap.UpdatedAt
		if ts.IsZero() {
			ts = nowUTC()
		}
		if _, err := stmt.ExecContext(ctx,
			ts.UTC(),
			snap.Subject,
			snap.State,
			snap.Category,
			snap.Mean,
			snap.Count,
			snap.Required,
			snap.Sufficient,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecentTransitions returns up to limit transitions, oldest first.
func (b *baseStore) RecentTransitions(ctx context.Context, limit int) ([]model.Transition, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	rows, err := b.db.QueryContext(ctx, b.d.recentTransition, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transition
	for rows.Next() {
		var tr model.Transition
		var reason string
		if err := rows.Scan(&tr.ID, &tr.Timestamp, &tr.Subject, &tr.From, &tr.To,
			&tr.FromState, &tr.ToState, &tr.Mean, &tr.Count, &reason); err != nil {
			return nil, err
		}
		tr.Reason = model.TransitionReason(reason)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
