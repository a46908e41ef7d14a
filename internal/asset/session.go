package asset

import "time"

// SessionStatus is the lifecycle state of an export session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
	SessionCancelled SessionStatus = "cancelled"
)

// ProgressStatus is the lifecycle state of one kind within a session.
type ProgressStatus string

const (
	ProgressIdle      ProgressStatus = "idle"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressError     ProgressStatus = "error"
)

// AssetError records one permanent item-level or page-level failure.
type AssetError struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats aggregates the outcome of one kind's batch.
type Stats struct {
	Total        int          `json:"total"`
	Updated      int          `json:"updated"`
	Cached       int          `json:"cached"`
	Errors       int          `json:"errors"`
	ErrorDetails []AssetError `json:"errorDetails,omitempty"`
}

// Progress tracks one kind's advance through listing and processing.
type Progress struct {
	Status  ProgressStatus `json:"status"`
	Current int            `json:"current"`
	Total   int            `json:"total"`
	Message string         `json:"message,omitempty"`
	Errors  []AssetError   `json:"errors,omitempty"`
	Stats   *Stats         `json:"stats,omitempty"`
}

// Session is one run of synchronization across one or more kinds.
type Session struct {
	SessionID string                  `json:"sessionId"`
	StartTime time.Time               `json:"startTime"`
	EndTime   *time.Time              `json:"endTime,omitempty"`
	Status    SessionStatus           `json:"status"`
	Progress  map[Kind]*Progress      `json:"progress"`
	Summary   *ExportSummary          `json:"summary,omitempty"`
}

// ExportSummary is the result of a completed session, also persisted at
// ExportSummaryKey after a full sync finishes.
type ExportSummary struct {
	SessionID   string         `json:"sessionId"`
	CompletedAt time.Time      `json:"completedAt"`
	Stats       map[Kind]Stats `json:"stats"`
	TotalAssets int            `json:"totalAssets"`
}
