// Package storage provides the storage collaborators of the user type
// subsystem: an object store for schema snapshots and a row store that keeps
// encoded cell values opaquely.
package storage

import (
	"context"
	"errors"
	"time"
)

// Object store errors. Backends wrap the underlying cause.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidPath    = errors.New("invalid object path")
	ErrWriteFailed    = errors.New("object write failed")
	ErrReadFailed     = errors.New("object read failed")
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ObjectStorage holds schema snapshot objects. Paths are slash-separated and
// relative to the store root.
type ObjectStorage interface {
	// Put stores data under objectPath, replacing any existing object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get returns the object at objectPath, or ErrObjectNotFound.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, objectPath string) error

	// List returns the objects under prefix sorted by path.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
