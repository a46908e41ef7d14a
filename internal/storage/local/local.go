// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/storage"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string `json:"root_path"`
}

// Backend implements storage.Backend using the local filesystem. Keys map
// to file paths under the root; writes are temp-file+rename atomic.
type Backend struct {
	rootPath string
}

// New creates a new local filesystem backend, creating the root if needed.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	if err := os.MkdirAll(cfg.RootPath, 0755); err != nil {
		return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, err)
	}
	return &Backend{rootPath: cfg.RootPath}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

// Get reads the full object at key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := os.ReadFile(b.fullPath(key))
	if err != nil {
		metrics.RecordStoreOperation("get", time.Since(start), false)
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	metrics.RecordStoreOperation("get", time.Since(start), true)
	return data, nil
}

// Put writes the object at key atomically via temp file and rename.
func (b *Backend) Put(_ context.Context, key string, data []byte) error {
	start := time.Now()
	path := b.fullPath(key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		metrics.RecordStoreOperation("put", time.Since(start), false)
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sightsync-*.tmp")
	if err != nil {
		metrics.RecordStoreOperation("put", time.Since(start), false)
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		metrics.RecordStoreOperation("put", time.Since(start), false)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		metrics.RecordStoreOperation("put", time.Since(start), false)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		metrics.RecordStoreOperation("put", time.Since(start), false)
		return fmt.Errorf("rename temp for %s: %w", key, err)
	}

	metrics.RecordStoreOperation("put", time.Since(start), true)
	return nil
}

// Delete removes the object at key. Missing keys are not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	start := time.Now()
	err := os.Remove(b.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		metrics.RecordStoreOperation("delete", time.Since(start), false)
		return fmt.Errorf("delete %s: %w", key, err)
	}
	metrics.RecordStoreOperation("delete", time.Since(start), true)
	return nil
}

// Exists checks whether an object exists at key.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Stat returns size and last-modified for one key.
func (b *Backend) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ObjectInfo{}, storage.ErrNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// ListByPrefix walks the tree under the prefix and returns object infos.
func (b *Backend) ListByPrefix(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	start := time.Now()
	var objects []storage.ObjectInfo

	err := filepath.WalkDir(b.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(b.rootPath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, storage.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		metrics.RecordStoreOperation("list", time.Since(start), false)
		return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
	}

	metrics.RecordStoreOperation("list", time.Since(start), true)
	return objects, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
