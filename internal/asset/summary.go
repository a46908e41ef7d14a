package asset

import "time"

// Summary is a lightweight listing entry returned by the remote API.
// Each kind has its own concrete summary type; the interface exposes the
// fields the sync engine needs regardless of kind.
type Summary interface {
	Kind() Kind
	ID() string
	Name() string
	ARN() string
	// LastModified is the remote-side modification timestamp, nil when the
	// remote API did not report one.
	LastModified() *time.Time
}

// DashboardSummary is one entry from the dashboard listing.
type DashboardSummary struct {
	DashboardID      string     `json:"dashboardId"`
	DisplayName      string     `json:"name"`
	Arn              string     `json:"arn"`
	PublishedVersion int64      `json:"publishedVersionNumber,omitempty"`
	CreatedAt        *time.Time `json:"createdTime,omitempty"`
	UpdatedAt        *time.Time `json:"lastUpdatedTime,omitempty"`
}

func (s DashboardSummary) Kind() Kind               { return KindDashboard }
func (s DashboardSummary) ID() string               { return s.DashboardID }
func (s DashboardSummary) Name() string             { return s.DisplayName }
func (s DashboardSummary) ARN() string              { return s.Arn }
func (s DashboardSummary) LastModified() *time.Time { return s.UpdatedAt }

// DatasetSummary is one entry from the dataset listing.
type DatasetSummary struct {
	DatasetID   string     `json:"dataSetId"`
	DisplayName string     `json:"name"`
	Arn         string     `json:"arn"`
	ImportMode  string     `json:"importMode,omitempty"`
	CreatedAt   *time.Time `json:"createdTime,omitempty"`
	UpdatedAt   *time.Time `json:"lastUpdatedTime,omitempty"`
}

func (s DatasetSummary) Kind() Kind               { return KindDataset }
func (s DatasetSummary) ID() string               { return s.DatasetID }
func (s DatasetSummary) Name() string             { return s.DisplayName }
func (s DatasetSummary) ARN() string              { return s.Arn }
func (s DatasetSummary) LastModified() *time.Time { return s.UpdatedAt }

// AnalysisSummary is one entry from the analysis listing.
type AnalysisSummary struct {
	AnalysisID  string     `json:"analysisId"`
	DisplayName string     `json:"name"`
	Arn         string     `json:"arn"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   *time.Time `json:"createdTime,omitempty"`
	UpdatedAt   *time.Time `json:"lastUpdatedTime,omitempty"`
}

func (s AnalysisSummary) Kind() Kind               { return KindAnalysis }
func (s AnalysisSummary) ID() string               { return s.AnalysisID }
func (s AnalysisSummary) Name() string             { return s.DisplayName }
func (s AnalysisSummary) ARN() string              { return s.Arn }
func (s AnalysisSummary) LastModified() *time.Time { return s.UpdatedAt }

// DataSourceSummary is one entry from the data source enumeration.
type DataSourceSummary struct {
	DataSourceID string     `json:"dataSourceId"`
	DisplayName  string     `json:"name"`
	Arn          string     `json:"arn"`
	SourceType   string     `json:"type,omitempty"`
	CreatedAt    *time.Time `json:"createdTime,omitempty"`
	UpdatedAt    *time.Time `json:"lastUpdatedTime,omitempty"`
}

func (s DataSourceSummary) Kind() Kind               { return KindDataSource }
func (s DataSourceSummary) ID() string               { return s.DataSourceID }
func (s DataSourceSummary) Name() string             { return s.DisplayName }
func (s DataSourceSummary) ARN() string              { return s.Arn }
func (s DataSourceSummary) LastModified() *time.Time { return s.UpdatedAt }
