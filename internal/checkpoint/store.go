// Package checkpoint provides durable per-stream position tracking. A
// checkpoint is committed only after the effect it protects is durable;
// together with idempotent consumption downstream this yields exactly-once
// processing over an at-least-once delivery channel.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/lakeline/lakeline/internal/config"
)

// Store persists the last successfully processed position per logical stream.
//
// Commit is monotonic: a position lower than or equal to the stored one is
// ignored, which guards against out-of-order restart races. Commits for the
// same stream are serialized; unrelated streams commit concurrently.
type Store interface {
	// Get returns the stored position for a stream, with ok=false when no
	// checkpoint exists yet.
	Get(ctx context.Context, streamID string) (position uint64, ok bool, err error)

	// Commit durably records the position for a stream. Positions never
	// move backwards.
	Commit(ctx context.Context, streamID string, position uint64) error

	// List returns every stored checkpoint, for operational inspection.
	List(ctx context.Context) (map[string]uint64, error)

	// Close releases the underlying connection.
	Close() error
}

// Open constructs the configured checkpoint backend.
func Open(ctx context.Context, cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	case "redis":
		return NewRedisStore(cfg.Addr), nil
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
	}
}
