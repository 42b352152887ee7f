package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	stream_id  TEXT PRIMARY KEY,
	position   BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements Store using PostgreSQL, for deployments where
// stages run on separate machines and need a shared checkpoint backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpoint: failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get returns the stored position for a stream.
func (s *PostgresStore) Get(ctx context.Context, streamID string) (uint64, bool, error) {
	var position int64
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM checkpoints WHERE stream_id = $1`, streamID,
	).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint: get %s: %w", streamID, err)
	}
	return uint64(position), true, nil
}

// Commit durably records the position for a stream; lower positions are
// ignored. Row-level locking in the upsert serializes per-stream commits.
func (s *PostgresStore) Commit(ctx context.Context, streamID string, position uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (stream_id, position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (stream_id) DO UPDATE SET
		     position = excluded.position,
		     updated_at = excluded.updated_at
		 WHERE excluded.position > checkpoints.position`,
		streamID, int64(position),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: commit %s@%d: %w", streamID, position, err)
	}
	return nil
}

// List returns every stored checkpoint.
func (s *PostgresStore) List(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stream_id, position FROM checkpoints ORDER BY stream_id`)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var streamID string
		var position int64
		if err := rows.Scan(&streamID, &position); err != nil {
			return nil, fmt.Errorf("checkpoint: list scan: %w", err)
		}
		out[streamID] = uint64(position)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
