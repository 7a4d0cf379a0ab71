package models

import (
	"github.com/google/uuid"
)

// Task limits on retry accounting. The max_retries limit is advisory for
// workers; Foreman clamps it on create but accepts retry_count beyond it.
const (
	DefaultMaxRetries = 3
	MaxRetriesCeiling = 10
)

// Task is a unit of work belonging to exactly one run
type Task struct {
	ID    uuid.UUID `json:"id" db:"id"`
	OrgID string    `json:"orgId" db:"org_id"`

	RunID        uuid.UUID  `json:"runId" db:"run_id"`
	ParentTaskID *uuid.UUID `json:"parentTaskId,omitempty" db:"parent_task_id"`

	Type   string     `json:"type" db:"type"`
	Status TaskStatus `json:"status" db:"status"`

	InputData  JSONValue `json:"inputData" db:"input_data"`
	OutputData JSONValue `json:"outputData,omitempty" db:"output_data"`
	ErrorData  JSONValue `json:"errorData,omitempty" db:"error_data"`
	Metadata   JSONMap   `json:"metadata,omitempty" db:"metadata"`

	RetryCount int `json:"retryCount" db:"retry_count"`
	MaxRetries int `json:"maxRetries" db:"max_retries"`

	// Set by the worker when it observes the broker job
	QueueJobID *string `json:"queueJobId,omitempty" db:"queue_job_id"`

	CreatedAt   int64  `json:"createdAt" db:"created_at"`
	UpdatedAt   int64  `json:"updatedAt" db:"updated_at"`
	QueuedAt    *int64 `json:"queuedAt,omitempty" db:"queued_at"`
	StartedAt   *int64 `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *int64 `json:"completedAt,omitempty" db:"completed_at"`
	DurationMs  *int64 `json:"durationMs,omitempty" db:"duration_ms"`
}

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusRetrying  TaskStatus = "retrying"
)

// Valid reports whether s is a known task status
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusRetrying:
		return true
	}
	return false
}

// IsTerminal returns true if the status is absorbing
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if the task is in a terminal state
func (t *Task) IsTerminal() bool { return t.Status.IsTerminal() }

// ClampMaxRetries clamps a requested max_retries into the accepted range,
// applying the default when unset (negative means "not provided").
func ClampMaxRetries(requested int) int {
	if requested < 0 {
		return DefaultMaxRetries
	}
	if requested > MaxRetriesCeiling {
		return MaxRetriesCeiling
	}
	return requested
}
