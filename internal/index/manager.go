// Package index maintains the master index: a queryable projection over all
// cached assets, persisted as a single object and cached in memory.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/events"
	"github.com/sightsync/sightsync/internal/logging"
	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/storage"
)

const (
	cacheTTL    = 5 * time.Minute
	staleAfter  = 24 * time.Hour
	maxPageSize = 100
)

// Manager owns the master index. All mutation goes through its methods;
// the underlying store has no transactions, so every write persists the
// whole index object and is safe to re-run.
type Manager struct {
	store  storage.Backend
	events *events.Broadcaster
	now    func() time.Time
	ttl    time.Duration

	mu       sync.Mutex
	cached   *asset.MasterIndex
	cachedAt time.Time
	payloads map[string]payloadEntry
}

type payloadEntry struct {
	data     []byte
	cachedAt time.Time
}

// New creates an index manager over the given store.
func New(store storage.Backend, ev *events.Broadcaster) *Manager {
	return &Manager{
		store:    store,
		events:   ev,
		now:      time.Now,
		ttl:      cacheTTL,
		payloads: make(map[string]payloadEntry),
	}
}

// GetMasterIndex returns a snapshot of the master index, loading it from
// the store when the in-memory copy is missing or older than the cache TTL.
// A store with no persisted index yields an empty index.
func (m *Manager) GetMasterIndex(ctx context.Context) (*asset.MasterIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return copyIndex(idx), nil
}

// copyIndex detaches a snapshot from the cached index. Writers mutate the
// cached map and its slices in place under the mutex; readers must never
// hold the live object.
func copyIndex(idx *asset.MasterIndex) *asset.MasterIndex {
	out := *idx
	out.AssetsByType = make(map[asset.Kind][]asset.IndexEntry, len(idx.AssetsByType))
	for kind, entries := range idx.AssetsByType {
		out.AssetsByType[kind] = append([]asset.IndexEntry(nil), entries...)
	}
	if idx.Summary.AssetsByType != nil {
		out.Summary.AssetsByType = make(map[asset.Kind]int, len(idx.Summary.AssetsByType))
		for kind, n := range idx.Summary.AssetsByType {
			out.Summary.AssetsByType[kind] = n
		}
	}
	return &out
}

func (m *Manager) loadLocked(ctx context.Context) (*asset.MasterIndex, error) {
	if m.cached != nil && m.now().Sub(m.cachedAt) < m.ttl {
		return m.cached, nil
	}

	data, err := m.store.Get(ctx, asset.IndexKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			idx := asset.NewMasterIndex()
			m.cached = idx
			m.cachedAt = m.now()
			return idx, nil
		}
		return nil, fmt.Errorf("load master index: %w", err)
	}

	var idx asset.MasterIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse master index: %w", err)
	}
	if idx.AssetsByType == nil {
		idx.AssetsByType = make(map[asset.Kind][]asset.IndexEntry)
	}

	m.cached = &idx
	m.cachedAt = m.now()
	return &idx, nil
}

func (m *Manager) persistLocked(ctx context.Context, idx *asset.MasterIndex) error {
	m.recomputeSummary(idx)

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal master index: %w", err)
	}
	if err := m.store.Put(ctx, asset.IndexKey, data); err != nil {
		return fmt.Errorf("persist master index: %w", err)
	}

	m.cached = idx
	m.cachedAt = m.now()
	for kind, entries := range idx.AssetsByType {
		metrics.SetIndexAssets(string(kind), len(entries))
	}
	return nil
}

// recomputeSummary derives the aggregate counters from the entry lists so
// the persisted invariant (totals match bucket lengths) always holds.
func (m *Manager) recomputeSummary(idx *asset.MasterIndex) {
	summary := asset.IndexSummary{
		AssetsByType: make(map[asset.Kind]int),
		LastUpdated:  m.now().UTC(),
		Version:      asset.IndexVersion,
	}
	for kind, entries := range idx.AssetsByType {
		summary.AssetsByType[kind] = len(entries)
		summary.TotalAssets += len(entries)
		for _, e := range entries {
			summary.TotalSize += e.FileSize
		}
	}
	idx.Summary = summary
}

// RebuildAll scans every kind prefix, rebuilds the index from the stored
// payloads, and persists it atomically. Unreadable payloads are skipped
// with a warning; a rebuild can always be re-run.
func (m *Manager) RebuildAll(ctx context.Context) (*asset.MasterIndex, error) {
	start := m.now()
	idx := asset.NewMasterIndex()

	for _, kind := range asset.AllKinds() {
		infos, err := m.store.ListByPrefix(ctx, asset.KindPrefix(kind))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		for _, info := range infos {
			if !strings.HasSuffix(info.Key, ".json") {
				continue
			}
			entry, err := m.buildEntry(ctx, kind, info)
			if err != nil {
				logging.Warn("skipping unreadable payload",
					zap.String("key", info.Key), zap.Error(err))
				continue
			}
			idx.AssetsByType[kind] = append(idx.AssetsByType[kind], entry)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLocked(ctx, idx); err != nil {
		return nil, err
	}

	metrics.RecordIndexRebuild(m.now().Sub(start))
	m.events.Publish(events.Event{
		Type:    events.EventIndexRebuilt,
		Message: fmt.Sprintf("%d assets indexed", idx.Summary.TotalAssets),
	})
	logging.Info("master index rebuilt",
		zap.Int("totalAssets", idx.Summary.TotalAssets),
		zap.Duration("duration", m.now().Sub(start)),
	)
	return copyIndex(idx), nil
}

func (m *Manager) buildEntry(ctx context.Context, kind asset.Kind, info storage.ObjectInfo) (asset.IndexEntry, error) {
	data, err := m.store.Get(ctx, info.Key)
	if err != nil {
		return asset.IndexEntry{}, err
	}

	var payload asset.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return asset.IndexEntry{}, fmt.Errorf("parse payload: %w", err)
	}

	id := payload.ID
	if id == "" {
		id = strings.TrimSuffix(path.Base(info.Key), ".json")
	}

	return asset.IndexEntry{
		ID:           id,
		Kind:         kind,
		Name:         payload.Export.Name,
		LastModified: info.LastModified,
		LastExported: payload.Export.ExportTime,
		FileSize:     info.Size,
		Tags:         payload.Tags,
		Permissions:  payload.Permissions,
		Metadata:     payload.Metadata,
	}, nil
}

// UpdateOne refreshes the index entry for a single asset after its payload
// was written. The whole index object is persisted back; the store offers
// no partial-object patching.
func (m *Manager) UpdateOne(ctx context.Context, kind asset.Kind, id string) error {
	key := asset.Key(kind, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, key)

	idx, err := m.loadLocked(ctx)
	if err != nil {
		return err
	}
	removeEntry(idx, kind, id)

	info, err := m.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Blob is gone; persist the removal.
			return m.persistLocked(ctx, idx)
		}
		return fmt.Errorf("stat %s: %w", key, err)
	}

	entry, err := m.buildEntry(ctx, kind, info)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", kind, id, err)
	}
	idx.AssetsByType[kind] = append(idx.AssetsByType[kind], entry)

	return m.persistLocked(ctx, idx)
}

// DeleteOne removes both the asset blob and its index entry. Returns
// storage.ErrNotFound when the asset does not exist.
func (m *Manager) DeleteOne(ctx context.Context, kind asset.Kind, id string) error {
	key := asset.Key(kind, id)
	if _, err := m.store.Stat(ctx, key); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, key)

	idx, err := m.loadLocked(ctx)
	if err != nil {
		return err
	}
	removeEntry(idx, kind, id)
	if err := m.persistLocked(ctx, idx); err != nil {
		return err
	}

	m.events.Publish(events.Event{
		Type: events.EventAssetDeleted,
		Kind: string(kind),
		ID:   id,
	})
	return nil
}

func removeEntry(idx *asset.MasterIndex, kind asset.Kind, id string) {
	entries := idx.AssetsByType[kind]
	for i, e := range entries {
		if e.ID == id {
			idx.AssetsByType[kind] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// GetAsset returns the raw payload of one cached asset, serving repeated
// reads from a TTL cache. Returns storage.ErrNotFound for unknown assets.
func (m *Manager) GetAsset(ctx context.Context, kind asset.Kind, id string) ([]byte, error) {
	key := asset.Key(kind, id)

	m.mu.Lock()
	if entry, ok := m.payloads[key]; ok && m.now().Sub(entry.cachedAt) < m.ttl {
		m.mu.Unlock()
		return entry.data, nil
	}
	m.mu.Unlock()

	data, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.payloads[key] = payloadEntry{data: data, cachedAt: m.now()}
	m.mu.Unlock()
	return data, nil
}
