package asset

import (
	"encoding/json"
	"fmt"
	"time"
)

// Object store key layout. All persisted state lives under these keys;
// there is no database.
const (
	IndexKey         = "assets/index/master-index.json"
	ExportSummaryKey = "assets/export-summary.json"
	SessionPrefix    = "sessions/"
)

// Key returns the cache key for one asset payload.
func Key(kind Kind, id string) string {
	return fmt.Sprintf("assets/%s/%s.json", kind, id)
}

// KindPrefix returns the listing prefix for all payloads of one kind.
func KindPrefix(kind Kind) string {
	return fmt.Sprintf("assets/%s/", kind)
}

// SessionKey returns the persistence key for a session.
func SessionKey(sessionID string) string {
	return SessionPrefix + sessionID + ".json"
}

// ExportMeta is embedded in every stored payload and records when and from
// what remote state the asset was exported.
type ExportMeta struct {
	ExportTime       time.Time  `json:"exportTime"`
	LastModifiedTime *time.Time `json:"lastModifiedTime,omitempty"`
	Name             string     `json:"name"`
}

// Permission is one principal/action-set pair on an asset.
type Permission struct {
	Principal string   `json:"principal"`
	Actions   []string `json:"actions"`
}

// Tag is one key/value tag on an asset.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Detail is the full remote representation of one asset, as returned by the
// remote API's describe call. Definition is the opaque structured document;
// Metadata carries kind-specific scalar facts (import mode, field counts)
// that end up in the index.
type Detail struct {
	Name         string          `json:"name"`
	Arn          string          `json:"arn"`
	LastModified *time.Time      `json:"lastModified,omitempty"`
	Definition   json.RawMessage `json:"definition"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// Payload is the document persisted at Key(kind, id). It is always written
// whole; there are no partial updates.
type Payload struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Arn         string          `json:"arn,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`
	Permissions []Permission    `json:"permissions,omitempty"`
	Tags        []Tag           `json:"tags,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Export      ExportMeta      `json:"export"`
}
