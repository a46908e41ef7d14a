package index

import (
	"context"
	"fmt"
	"time"

	"github.com/sightsync/sightsync/internal/asset"
)

// HealthReport is the result of an index health inspection.
type HealthReport struct {
	Status      string    `json:"status"` // "ok" or "degraded"
	TotalAssets int       `json:"totalAssets"`
	LastUpdated time.Time `json:"lastUpdated"`
	Problems    []string  `json:"problems,omitempty"`
	CheckedAt   time.Time `json:"checkedAt"`
}

// Health inspects index age and emptiness, and spot-checks that one entry
// per kind still resolves to a real blob.
func (m *Manager) Health(ctx context.Context) (*HealthReport, error) {
	idx, err := m.GetMasterIndex(ctx)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{
		Status:      "ok",
		TotalAssets: idx.Summary.TotalAssets,
		LastUpdated: idx.Summary.LastUpdated,
		CheckedAt:   m.now().UTC(),
	}

	if idx.Summary.TotalAssets == 0 {
		report.Problems = append(report.Problems, "index is empty")
	}
	if !idx.Summary.LastUpdated.IsZero() && m.now().Sub(idx.Summary.LastUpdated) > staleAfter {
		report.Problems = append(report.Problems,
			fmt.Sprintf("index not updated for %s", m.now().Sub(idx.Summary.LastUpdated).Round(time.Hour)))
	}

	for _, kind := range asset.AllKinds() {
		entries := idx.AssetsByType[kind]
		if len(entries) == 0 {
			continue
		}
		sample := entries[0]
		ok, err := m.store.Exists(ctx, asset.Key(kind, sample.ID))
		if err != nil {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%s: spot-check failed: %v", kind, err))
			continue
		}
		if !ok {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%s: indexed asset %s has no blob", kind, sample.ID))
		}
	}

	if len(report.Problems) > 0 {
		report.Status = "degraded"
	}
	return report, nil
}
