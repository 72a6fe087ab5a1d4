// Package ledger records hibernate attempts to a fleet-wide Postgres table
// for post-mortem querying across many devices. It is append-only and
// optional: a device with no HIBERMAN_DATABASE_URL configured simply runs without
// a Ledger.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome is the terminal state of one hibernate attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt is one row of the attempt ledger.
type Attempt struct {
	ID        uuid.UUID
	DeviceID  string
	ImageSize int64
	Duration  time.Duration
	Outcome   Outcome
	FailKind  string // empty on success
	StartedAt time.Time
}

// Ledger appends hibernate attempts to Postgres.
type Ledger struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the attempts table exists.
func Open(ctx context.Context, databaseURL string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	l := &Ledger{pool: pool}
	if err := l.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS hibernate_attempts (
			id          UUID PRIMARY KEY,
			device_id   TEXT NOT NULL,
			image_size  BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL,
			outcome     TEXT NOT NULL,
			fail_kind   TEXT NOT NULL DEFAULT '',
			started_at  TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ledger: create table: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (l *Ledger) Close() { l.pool.Close() }

// Record appends one completed attempt. It assigns an ID if a.ID is the
// zero UUID.
func (l *Ledger) Record(ctx context.Context, a Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO hibernate_attempts (id, device_id, image_size, duration_ms, outcome, fail_kind, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.DeviceID, a.ImageSize, a.Duration.Milliseconds(), string(a.Outcome), a.FailKind, a.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: record attempt: %w", err)
	}
	return nil
}

// RecentForDevice returns the most recent attempts for a device, newest
// first, for operator post-mortem queries.
func (l *Ledger) RecentForDevice(ctx context.Context, deviceID string, limit int) ([]Attempt, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, device_id, image_size, duration_ms, outcome, fail_kind, started_at
		 FROM hibernate_attempts WHERE device_id = $1
		 ORDER BY started_at DESC LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query recent attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var durMS int64
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.ImageSize, &durMS, &a.Outcome, &a.FailKind, &a.StartedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan attempt: %w", err)
		}
		a.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}
