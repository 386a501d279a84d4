package model

import "time"

// JobStatus represents the lifecycle of a background search job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is a background discovery run requested through the job API.
type Job struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Status        JobStatus   `json:"status"`
	Progress      int         `json:"progress"`
	CurrentPhase  string      `json:"current_phase,omitempty"`
	Error         string      `json:"error,omitempty"`
	FundsFound    int         `json:"funds_found"`
	FundsAnalyzed int         `json:"funds_analyzed"`
	AutoAnalyze   bool        `json:"auto_analyze"`
	WebhookURL    string      `json:"webhook_url,omitempty"`
	Profile       *Profile    `json:"profile,omitempty"`
	Summary       *JobSummary `json:"summary,omitempty"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// JobSummary is attached to a job when it reaches a terminal state.
type JobSummary struct {
	TotalFunds      int    `json:"total_funds"`
	PhasesCompleted int    `json:"phases_completed"`
	AnalyzedFunds   int    `json:"analyzed_funds"`
	Note            string `json:"note,omitempty"`
}

// JobUpdate carries a partial update to a job row. Nil fields are left as is.
type JobUpdate struct {
	Status        *JobStatus
	Progress      *int
	CurrentPhase  *string
	Error         *string
	FundsFound    *int
	FundsAnalyzed *int
	Summary       *JobSummary
	StartedAt     *time.Time
	CompletedAt   *time.Time
}
