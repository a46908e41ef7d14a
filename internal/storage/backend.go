// Package storage defines the Backend interface for the durable blob store
// holding asset payloads, session state, and the master index.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Stat when no object exists at a key.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Backend is the blob store collaborator. Implementations provide
// last-writer-wins overwrite semantics and no transactions; callers design
// multi-step updates to be safely re-runnable.
type Backend interface {
	// Get returns the full object at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object at key atomically, replacing any prior version.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns size and last-modified for one key, or ErrNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// ListByPrefix returns info for every object whose key starts with
	// prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
