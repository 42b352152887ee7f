// Package catalog tracks the completed output partitions of the silver and
// gold layers in a SQLite registry, so external readers only ever see
// partitions that a committed batch produced.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS partitions (
	layer         TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	row_count     INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (layer, partition_key)
) WITHOUT ROWID;
`

// PartitionInfo describes one registered partition.
type PartitionInfo struct {
	Layer        string    `json:"layer"`
	PartitionKey string    `json:"partition_key"`
	RowCount     int64     `json:"row_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Catalog is a SQLite-backed partition registry.
type Catalog struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) a catalog database.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to create schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Register records rows added to a partition, creating the partition entry
// on first use. Registration is additive and idempotent per batch because
// callers register inside the same transaction boundary as the rows.
func (c *Catalog) Register(ctx context.Context, layer, partitionKey string, rowDelta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO partitions (layer, partition_key, row_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (layer, partition_key) DO UPDATE SET
		     row_count = row_count + excluded.row_count,
		     updated_at = excluded.updated_at`,
		layer, partitionKey, rowDelta, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("catalog: register %s/%s: %w", layer, partitionKey, err)
	}
	return nil
}

// List returns the registered partitions for a layer in key order. An empty
// layer lists everything.
func (c *Catalog) List(ctx context.Context, layer string) ([]PartitionInfo, error) {
	query := `SELECT layer, partition_key, row_count, updated_at FROM partitions`
	args := []interface{}{}
	if layer != "" {
		query += ` WHERE layer = ?`
		args = append(args, layer)
	}
	query += ` ORDER BY layer, partition_key`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []PartitionInfo
	for rows.Next() {
		var info PartitionInfo
		var updatedAt int64
		if err := rows.Scan(&info.Layer, &info.PartitionKey, &info.RowCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("catalog: list scan: %w", err)
		}
		info.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
