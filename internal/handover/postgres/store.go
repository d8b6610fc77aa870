// Package postgres persists handover state to the call-center PostgreSQL
// database.
//
// The store mirrors exactly the four handover columns on the externally owned
// voice_sessions table; schema migration belongs to the surrounding product,
// not to this core.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001/internal/handover"
)

// Compile-time interface check.
var _ handover.Store = (*Store)(nil)

// Store writes handover records through a single [pgxpool.Pool]. Safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and verifies
// connectivity. Close releases the pool.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("handover store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("handover store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("handover store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveHandover upserts the four handover fields for rec.SessionID. A Status
// of None is stored as NULL, matching the external schema.
func (s *Store) SaveHandover(ctx context.Context, rec handover.Record) error {
	const q = `
		INSERT INTO voice_sessions (session_id, handover_status, handover_requested_at, handover_accepted_at, assigned_agent_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			handover_status       = EXCLUDED.handover_status,
			handover_requested_at = EXCLUDED.handover_requested_at,
			handover_accepted_at  = EXCLUDED.handover_accepted_at,
			assigned_agent_id     = EXCLUDED.assigned_agent_id`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		nullableStatus(rec.Status),
		nullableTime(rec.RequestedAt),
		nullableTime(rec.AcceptedAt),
		nullableString(rec.AssignedAgentID),
	)
	if err != nil {
		return fmt.Errorf("handover store: save %s: %w", rec.SessionID, err)
	}
	return nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("handover store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func nullableStatus(st handover.Status) *string {
	if st == handover.StatusNone {
		return nil
	}
	v := string(st)
	return &v
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
