package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sightsync/sightsync/internal/asset"
)

// Query selects, orders, and pages index entries of one kind.
type Query struct {
	Search   string // case-insensitive substring over name and id
	Sort     string // entry field name, or "metadata.<key>"
	Order    string // "asc" (default) or "desc"
	Page     int    // 1-based
	PageSize int
}

// Pagination describes one page of results.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	TotalItems int  `json:"totalItems"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// Page is one page of index entries.
type Page struct {
	Entries    []asset.IndexEntry `json:"entries"`
	Pagination Pagination         `json:"pagination"`
}

// GetByKind returns a filtered, sorted, paginated view over one kind's
// index entries.
func (m *Manager) GetByKind(ctx context.Context, kind asset.Kind, q Query) (*Page, error) {
	idx, err := m.GetMasterIndex(ctx)
	if err != nil {
		return nil, err
	}

	entries := idx.AssetsByType[kind]

	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		filtered := make([]asset.IndexEntry, 0, len(entries))
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Name), needle) ||
				strings.Contains(strings.ToLower(e.ID), needle) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	} else {
		entries = append([]asset.IndexEntry(nil), entries...)
	}

	if q.Sort != "" {
		desc := strings.EqualFold(q.Order, "desc")
		sortEntries(entries, q.Sort, desc)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 {
		size = 20
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	total := len(entries)
	totalPages := (total + size - 1) / size
	startIdx := (page - 1) * size
	if startIdx > total {
		startIdx = total
	}
	endIdx := startIdx + size
	if endIdx > total {
		endIdx = total
	}

	return &Page{
		Entries: entries[startIdx:endIdx],
		Pagination: Pagination{
			Page:       page,
			PageSize:   size,
			TotalItems: total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		},
	}, nil
}

func sortEntries(entries []asset.IndexEntry, field string, desc bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		less := compareValues(fieldValue(entries[i], field), fieldValue(entries[j], field)) < 0
		if desc {
			return !less
		}
		return less
	})
}

// fieldValue resolves a sort field against an entry, including dotted
// metadata paths ("metadata.importMode").
func fieldValue(e asset.IndexEntry, field string) any {
	switch field {
	case "id":
		return e.ID
	case "name":
		return e.Name
	case "kind":
		return string(e.Kind)
	case "lastModified":
		return e.LastModified
	case "lastExported":
		return e.LastExported
	case "fileSize":
		return e.FileSize
	}
	if key, ok := strings.CutPrefix(field, "metadata."); ok {
		return e.Metadata[key]
	}
	return e.Metadata[field]
}

func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(strings.ToLower(av), strings.ToLower(bv))
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	default:
		if af, aok := toFloat(a); aok {
			if bf, bok := toFloat(b); bok {
				switch {
				case af < bf:
					return -1
				case af > bf:
					return 1
				}
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
