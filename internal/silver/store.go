package silver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lakeline/lakeline/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS silver_rows (
	stream_id     TEXT NOT NULL,
	sequence      INTEGER NOT NULL,
	item_index    INTEGER NOT NULL,
	source_offset INTEGER NOT NULL,
	order_id      TEXT NOT NULL,
	location_id   TEXT NOT NULL,
	brand         TEXT NOT NULL,
	sku           TEXT NOT NULL,
	quantity      INTEGER NOT NULL,
	unit_price    REAL NOT NULL,
	extended      REAL NOT NULL,
	note          TEXT NOT NULL DEFAULT '',
	event_time    INTEGER NOT NULL,
	partition_key TEXT NOT NULL,
	PRIMARY KEY (stream_id, sequence, item_index)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_silver_offset ON silver_rows (source_offset, item_index);
CREATE INDEX IF NOT EXISTS idx_silver_partition ON silver_rows (partition_key);
`

// Store persists silver rows. The primary key (stream_id, sequence,
// item_index) makes writes structurally idempotent: replaying the same bronze
// record re-derives the same rows and INSERT OR IGNORE discards them, so a
// crash between write and checkpoint commit cannot duplicate output.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a silver database file.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("silver: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("silver: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// WriteBatch inserts rows in a single transaction and returns how many were
// actually new, plus the per-partition row deltas for catalog registration.
func (s *Store) WriteBatch(ctx context.Context, rows []types.SilverRow) (int, map[string]int64, error) {
	if len(rows) == 0 {
		return 0, nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("silver: failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO silver_rows
		 (stream_id, sequence, item_index, source_offset, order_id, location_id,
		  brand, sku, quantity, unit_price, extended, note, event_time, partition_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, nil, fmt.Errorf("silver: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	partitions := make(map[string]int64)
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx,
			row.StreamID, int64(row.Sequence), row.ItemIndex, int64(row.SourceOffset),
			row.OrderID, row.LocationID, row.Brand, row.SKU,
			row.Quantity, row.UnitPrice, row.Extended, row.Note,
			row.EventTime.UTC().UnixMicro(), row.PartitionKey,
		)
		if err != nil {
			return 0, nil, fmt.Errorf("silver: failed to insert %s/%d/%d: %w",
				row.StreamID, row.Sequence, row.ItemIndex, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, nil, fmt.Errorf("silver: rows affected: %w", err)
		}
		if n > 0 {
			inserted++
			partitions[row.PartitionKey]++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("silver: failed to commit batch: %w", err)
	}
	return inserted, partitions, nil
}

// ScanFrom returns the rows with source_offset >= from, ordered by
// (source_offset, item_index), spanning at most limit distinct source
// offsets. The limit counts source records rather than rows so a batch
// boundary never splits one record's line items: the gold checkpoint
// advances past whole source offsets only.
func (s *Store) ScanFrom(ctx context.Context, from uint64, limit int) ([]types.SilverRow, error) {
	// The exclusive upper bound is the (limit+1)-th distinct offset, absent
	// when fewer offsets remain.
	var bound sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT source_offset FROM (
		   SELECT DISTINCT source_offset FROM silver_rows
		   WHERE source_offset >= ?
		   ORDER BY source_offset LIMIT 1 OFFSET ?
		 )`, int64(from), limit).Scan(&bound.Int64)
	switch {
	case err == sql.ErrNoRows:
		bound.Valid = false
	case err != nil:
		return nil, fmt.Errorf("silver: failed to bound scan from %d: %w", from, err)
	default:
		bound.Valid = true
	}

	query := `SELECT stream_id, sequence, item_index, source_offset, order_id, location_id,
	                 brand, sku, quantity, unit_price, extended, note, event_time, partition_key
	          FROM silver_rows
	          WHERE source_offset >= ?`
	args := []interface{}{int64(from)}
	if bound.Valid {
		query += ` AND source_offset < ?`
		args = append(args, bound.Int64)
	}
	query += ` ORDER BY source_offset, item_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("silver: failed to scan from %d: %w", from, err)
	}
	defer rows.Close()

	var out []types.SilverRow
	for rows.Next() {
		var (
			row         types.SilverRow
			seq, srcOff int64
			eventMicros int64
		)
		if err := rows.Scan(&row.StreamID, &seq, &row.ItemIndex, &srcOff,
			&row.OrderID, &row.LocationID, &row.Brand, &row.SKU,
			&row.Quantity, &row.UnitPrice, &row.Extended, &row.Note,
			&eventMicros, &row.PartitionKey); err != nil {
			return nil, fmt.Errorf("silver: row scan: %w", err)
		}
		row.Sequence = uint64(seq)
		row.SourceOffset = uint64(srcOff)
		row.EventTime = time.UnixMicro(eventMicros).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count returns the total number of silver rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM silver_rows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("silver: count: %w", err)
	}
	return n, nil
}

// PartitionKeys returns the distinct day partition keys present.
func (s *Store) PartitionKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT partition_key FROM silver_rows ORDER BY partition_key`)
	if err != nil {
		return nil, fmt.Errorf("silver: failed to list partitions: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("silver: partition scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
