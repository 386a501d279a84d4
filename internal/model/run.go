package model

import "time"

// RunStatus is the terminal state of a discovery run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCanceled  RunStatus = "canceled"
	RunStatusFailed    RunStatus = "failed"
)

// RunState is the observable state of a user's discovery run.
type RunState struct {
	RunID      string     `json:"run_id,omitempty"`
	Active     bool       `json:"active"`
	Phase      string     `json:"phase"`
	Canceled   bool       `json:"canceled"`
	Step       int        `json:"step"`
	Total      int        `json:"total"`
	FundsFound int        `json:"funds_found"`
	Analyzed   int        `json:"analyzed"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PhaseResult records the outcome of a single discovery phase.
type PhaseResult struct {
	Name     string      `json:"name"`
	Status   PhaseStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Found    int         `json:"found"`
	Error    string      `json:"error,omitempty"`
}

// PhaseStatus represents the outcome of a discovery phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusCanceled PhaseStatus = "canceled"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)
