// Package asset defines the domain types shared across the sync engine:
// asset kinds, remote summaries, stored payloads, index entries, and
// export session state.
package asset

import "fmt"

// Kind identifies one of the synchronized asset categories.
type Kind string

const (
	KindDashboard  Kind = "dashboard"
	KindDataset    Kind = "dataset"
	KindAnalysis   Kind = "analysis"
	KindDataSource Kind = "datasource"
)

// AllKinds returns every kind in the fixed sync order.
func AllKinds() []Kind {
	return []Kind{KindDashboard, KindDataset, KindAnalysis, KindDataSource}
}

// ParseKind validates a kind string from an external caller.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDashboard, KindDataset, KindAnalysis, KindDataSource:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown asset kind: %q", s)
}
