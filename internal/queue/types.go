// ABOUTME: Job and JobRun row types plus the job_status enum values.
// ABOUTME: Timestamps are epoch-milliseconds UTC integers on the wire.
package queue

import "encoding/json"

// Status is the job_queue.status enum.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusDead      Status = "dead"
)

// Valid reports whether s is one of the five job_status enum values.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusRetrying, StatusSucceeded, StatusDead:
		return true
	}
	return false
}

// Job is one row of job_queue. A claimed Job doubles as the claim token the
// worker hands back to Success/Failure — Attempts there is the attempt number
// of the claim, already incremented.
//
// All *At/RunAfter fields are epoch milliseconds UTC; the storage column is
// timestamptz and the engine converts on both read and write.
type Job struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	RunAfter    int64           `json:"run_after"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LockedBy    *string         `json:"locked_by"`
	LockedAt    *int64          `json:"locked_at"`
	LastError   *string         `json:"last_error"`
	LastErrorAt *int64          `json:"last_error_at"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// JobRun is one row of job_runs — the append-only record of a completed
// attempt. Runs are written on success and failure only, never on
// stale-lease reclaim.
type JobRun struct {
	ID            int64   `json:"id"`
	JobID         int64   `json:"job_id"`
	Type          string  `json:"type"`
	Key           string  `json:"key"`
	Attempt       int     `json:"attempt"`
	Status        string  `json:"status"`
	StartedAt     int64   `json:"started_at"`
	FinishedAt    int64   `json:"finished_at"`
	DurationMs    int64   `json:"duration_ms"`
	ErrorMessage  *string `json:"error_message"`
	ErrorStack    *string `json:"error_stack"`
	ResultSummary *string `json:"result_summary"`
}

const (
	// RunSuccess and RunFail are the two job_runs.status values.
	RunSuccess = "success"
	RunFail    = "fail"
)
