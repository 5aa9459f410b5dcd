package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of an import job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusReady     JobStatus = "ready" // analysis complete, awaiting operator configuration
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobPhase is the orthogonal phase axis of an import job. A running job moves
// through uploading/analyzing before it becomes ready, and through
// importing/finalizing after the operator approves a configuration.
type JobPhase string

const (
	JobPhaseUploading   JobPhase = "uploading"
	JobPhaseAnalyzing   JobPhase = "analyzing"
	JobPhaseConfiguring JobPhase = "configuring"
	JobPhaseImporting   JobPhase = "importing"
	JobPhaseFinalizing  JobPhase = "finalizing"
)

// EntityProgress tracks per-entity-type apply progress.
type EntityProgress struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Mapped  int `json:"mapped"`
}

// ActivityEntry is one append-only activity log record on a job.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Entity    string    `json:"entity,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// ImportJob is the persisted state of one migration run.
type ImportJob struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Status    JobStatus `json:"status"`
	Phase     JobPhase  `json:"phase"`

	SourceName string `json:"source_name,omitempty"` // original upload file name
	SourcePath string `json:"-"`                     // spooled export file, server-side only

	// Progress is keyed by entity type and only populated during apply.
	Progress map[string]EntityProgress `json:"progress,omitempty"`
	Activity []ActivityEntry           `json:"activity,omitempty"`

	ProcessedRows int `json:"processed_rows"`
	ErrorRows     int `json:"error_rows"`
	SkippedRows   int `json:"skipped_rows"`
	TotalRows     int `json:"total_rows"`

	// CurrentEntity names the entity type the apply phase is working on.
	CurrentEntity string `json:"current_entity,omitempty"`

	// RowsPerSecond and EstimatedSecondsLeft are nil until enough progress
	// has accumulated to compute them.
	RowsPerSecond        *float64 `json:"rows_per_second,omitempty"`
	EstimatedSecondsLeft *int64   `json:"estimated_seconds_left,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// CanConfigure reports whether the job accepts a mapping configuration.
func (j *ImportJob) CanConfigure() bool {
	return j.Status == JobStatusReady
}
