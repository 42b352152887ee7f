package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	stream_id  TEXT PRIMARY KEY,
	position   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
) WITHOUT ROWID;
`

// SQLiteStore implements Store using a local SQLite database. Writes go
// through a single mutex-guarded connection; reads use a separate pool so a
// reader never observes a partially written position.
type SQLiteStore struct {
	db     *sql.DB
	readDB *sql.DB
	mu     sync.Mutex
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed checkpoint store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: failed to create schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: failed to open read connection: %w", err)
	}

	return &SQLiteStore{db: db, readDB: readDB}, nil
}

// Get returns the stored position for a stream.
func (s *SQLiteStore) Get(ctx context.Context, streamID string) (uint64, bool, error) {
	var position int64
	err := s.readDB.QueryRowContext(ctx,
		`SELECT position FROM checkpoints WHERE stream_id = ?`, streamID,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint: get %s: %w", streamID, err)
	}
	return uint64(position), true, nil
}

// Commit durably records the position for a stream. Lower positions are
// ignored by the upsert's guard clause.
func (s *SQLiteStore) Commit(ctx context.Context, streamID string, position uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (stream_id, position, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (stream_id) DO UPDATE SET
		     position = excluded.position,
		     updated_at = excluded.updated_at
		 WHERE excluded.position > checkpoints.position`,
		streamID, int64(position), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: commit %s@%d: %w", streamID, position, err)
	}
	return nil
}

// List returns every stored checkpoint.
func (s *SQLiteStore) List(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.readDB.QueryContext(ctx,
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

// Close closes both database connections.
func (s *SQLiteStore) Close() error {
	s.readDB.Close()
	return s.db.Close()
}
