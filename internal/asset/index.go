package asset

import "time"

// IndexVersion is bumped when the persisted index layout changes.
const IndexVersion = 2

// IndexEntry is the lightweight projection of one cached asset kept in the
// master index. Derived from the stored payload and blob metadata, never
// hand-edited.
type IndexEntry struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	Name         string         `json:"name"`
	LastModified time.Time      `json:"lastModified"`
	LastExported time.Time      `json:"lastExported"`
	FileSize     int64          `json:"fileSize"`
	Tags         []Tag          `json:"tags,omitempty"`
	Permissions  []Permission   `json:"permissions,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// IndexSummary holds the aggregate counters of a master index. After every
// successful write TotalAssets equals the sum of the per-kind lengths.
type IndexSummary struct {
	TotalAssets  int          `json:"totalAssets"`
	AssetsByType map[Kind]int `json:"assetsByType"`
	TotalSize    int64        `json:"totalSize"`
	LastUpdated  time.Time    `json:"lastUpdated"`
	Version      int          `json:"version"`
}

// MasterIndex is the queryable projection over all cached assets, persisted
// as a single object.
type MasterIndex struct {
	AssetsByType map[Kind][]IndexEntry `json:"assetsByType"`
	Summary      IndexSummary          `json:"summary"`
}

// NewMasterIndex returns an empty index with all kind buckets initialized.
func NewMasterIndex() *MasterIndex {
	idx := &MasterIndex{AssetsByType: make(map[Kind][]IndexEntry)}
	for _, k := range AllKinds() {
		idx.AssetsByType[k] = nil
	}
	return idx
}
