// Package models defines the durable entities of the Foreman core: runs,
// tasks and run data, plus the JSON column types they are stored with.
// Timestamps are epoch milliseconds throughout.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Run represents one top-level workflow execution
type Run struct {
	ID     uuid.UUID `json:"id" db:"id"`
	OrgID  string    `json:"orgId" db:"org_id"`
	Status RunStatus `json:"status" db:"status"`

	InputData  JSONValue `json:"inputData" db:"input_data"`
	OutputData JSONValue `json:"outputData,omitempty" db:"output_data"`
	ErrorData  JSONValue `json:"errorData,omitempty" db:"error_data"`
	Metadata   JSONMap   `json:"metadata,omitempty" db:"metadata"`

	// Counters are maintained by the task manager, never written by clients
	TotalTasks     int `json:"totalTasks" db:"total_tasks"`
	CompletedTasks int `json:"completedTasks" db:"completed_tasks"`
	FailedTasks    int `json:"failedTasks" db:"failed_tasks"`

	CreatedAt   int64  `json:"createdAt" db:"created_at"`
	UpdatedAt   int64  `json:"updatedAt" db:"updated_at"`
	StartedAt   *int64 `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *int64 `json:"completedAt,omitempty" db:"completed_at"`
	DurationMs  *int64 `json:"durationMs,omitempty" db:"duration_ms"`
}

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is a known run status
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if the status is absorbing
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if the run is in a terminal state
func (r *Run) IsTerminal() bool { return r.Status.IsTerminal() }

// NowMillis returns the current time as epoch milliseconds
func NowMillis() int64 { return time.Now().UnixMilli() }
