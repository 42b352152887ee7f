// Package storage provides the object storage backends used to archive
// sealed bronze segments and finalized gold windows.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lakeline/lakeline/internal/config"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the archive destination. Implementations are S3
// (including S3-compatible endpoints) and the local filesystem.
type ObjectStorage interface {
	// Put writes data to objectPath, replacing any existing object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// PutFile uploads a local file to objectPath.
	PutFile(ctx context.Context, localPath, objectPath string) error

	// Get reads the object at objectPath. Returns ErrObjectNotFound when
	// it does not exist.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Exists reports whether an object exists at objectPath.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Delete removes the object at objectPath. Deleting a missing object
	// is not an error.
	Delete(ctx context.Context, objectPath string) error

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open builds an object storage backend from configuration. A backend of
// "none" (or empty) returns nil: archiving is disabled.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
