package repository

import (
	"github.com/google/uuid"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
)

// Pagination bounds per entity
const (
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultRunDataLimit = 100
	MaxRunDataLimit     = 1000
)

// CreateRunInput carries the fields accepted on run creation
type CreateRunInput struct {
	InputData models.JSONValue
	Metadata  models.JSONMap
}

// Validate checks required fields
func (in CreateRunInput) Validate() error {
	if in.InputData.IsZero() {
		return errors.InvalidInput("inputData is required")
	}
	return nil
}

// RunPatch is a partial update to a run. Nil fields are left untouched.
type RunPatch struct {
	Status     *models.RunStatus
	OutputData *models.JSONValue
	ErrorData  *models.JSONValue
	Metadata   *models.JSONMap
}

// Validate checks the patched status, when present
func (p RunPatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return errors.Newf(errors.KindInvalidInput, "unknown run status %q", *p.Status)
	}
	return nil
}

// CreateTaskInput carries the fields accepted on task creation.
// MaxRetries is a pointer so "not provided" and 0 are distinguishable.
type CreateTaskInput struct {
	RunID        uuid.UUID
	ParentTaskID *uuid.UUID
	Type         string
	InputData    models.JSONValue
	Metadata     models.JSONMap
	MaxRetries   *int
}

// Validate checks required fields
func (in CreateTaskInput) Validate() error {
	if in.RunID == uuid.Nil {
		return errors.InvalidInput("runId is required")
	}
	if in.Type == "" {
		return errors.InvalidInput("type is required")
	}
	if len(in.Type) > 255 {
		return errors.InvalidInput("type exceeds 255 characters")
	}
	if in.InputData.IsZero() {
		return errors.InvalidInput("inputData is required")
	}
	return nil
}

// EffectiveMaxRetries returns the clamped max_retries for insertion
func (in CreateTaskInput) EffectiveMaxRetries() int {
	if in.MaxRetries == nil {
		return models.DefaultMaxRetries
	}
	return models.ClampMaxRetries(*in.MaxRetries)
}

// TaskPatch is a partial update to a task. Nil fields are left untouched.
type TaskPatch struct {
	Status     *models.TaskStatus
	OutputData *models.JSONValue
	ErrorData  *models.JSONValue
	Metadata   *models.JSONMap
	QueueJobID *string
}

// Validate checks the patched status, when present
func (p TaskPatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return errors.Newf(errors.KindInvalidInput, "unknown task status %q", *p.Status)
	}
	return nil
}

// ListRunsParams filters and paginates run listings
type ListRunsParams struct {
	Status    *models.RunStatus
	Limit     int
	Offset    int
	SortBy    string
	SortOrder models.SortOrder
}

// Normalize applies defaults and validates bounds
func (p *ListRunsParams) Normalize() error {
	if p.Limit == 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit < 1 || p.Limit > MaxListLimit {
		return errors.Newf(errors.KindInvalidInput, "limit must be between 1 and %d", MaxListLimit)
	}
	if p.Offset < 0 {
		return errors.InvalidInput("offset must be non-negative")
	}
	if p.SortBy == "" {
		p.SortBy = "created_at"
	}
	switch p.SortBy {
	case "created_at", "started_at", "completed_at":
	default:
		return errors.Newf(errors.KindInvalidInput, "unsupported sortBy %q", p.SortBy)
	}
	if p.SortOrder == "" {
		p.SortOrder = models.SortDesc
	}
	if !p.SortOrder.Valid() {
		return errors.Newf(errors.KindInvalidInput, "unsupported sortOrder %q", p.SortOrder)
	}
	if p.Status != nil && !p.Status.Valid() {
		return errors.Newf(errors.KindInvalidInput, "unknown run status %q", *p.Status)
	}
	return nil
}

// ListTasksParams filters and paginates task listings
type ListTasksParams struct {
	RunID     *uuid.UUID
	Status    *models.TaskStatus
	Limit     int
	Offset    int
	SortBy    string
	SortOrder models.SortOrder
}

// Normalize applies defaults and validates bounds
func (p *ListTasksParams) Normalize() error {
	if p.Limit == 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit < 1 || p.Limit > MaxListLimit {
		return errors.Newf(errors.KindInvalidInput, "limit must be between 1 and %d", MaxListLimit)
	}
	if p.Offset < 0 {
		return errors.InvalidInput("offset must be non-negative")
	}
	if p.SortBy == "" {
		p.SortBy = "created_at"
	}
	switch p.SortBy {
	case "created_at", "started_at", "completed_at":
	default:
		return errors.Newf(errors.KindInvalidInput, "unsupported sortBy %q", p.SortBy)
	}
	if p.SortOrder == "" {
		p.SortOrder = models.SortDesc
	}
	if !p.SortOrder.Valid() {
		return errors.Newf(errors.KindInvalidInput, "unsupported sortOrder %q", p.SortOrder)
	}
	if p.Status != nil && !p.Status.Valid() {
		return errors.Newf(errors.KindInvalidInput, "unknown task status %q", *p.Status)
	}
	return nil
}

// CreateRunDataInput carries the fields accepted on run-data creation
type CreateRunDataInput struct {
	RunID    uuid.UUID
	TaskID   uuid.UUID
	Key      string
	Value    models.JSONValue
	Tags     []string
	Metadata models.JSONMap
}

// Validate checks required fields
func (in CreateRunDataInput) Validate() error {
	if in.RunID == uuid.Nil {
		return errors.InvalidInput("runId is required")
	}
	if in.TaskID == uuid.Nil {
		return errors.InvalidInput("taskId is required")
	}
	if in.Key == "" {
		return errors.InvalidInput("key is required")
	}
	if len(in.Key) > 255 {
		return errors.InvalidInput("key exceeds 255 characters")
	}
	if in.Value.IsZero() {
		return errors.InvalidInput("value is required")
	}
	return nil
}

// TagMode selects any- or all-matching for tag filters
type TagMode string

const (
	TagModeAny TagMode = "any"
	TagModeAll TagMode = "all"
)

// RunDataQuery filters run data within a run. Key filters are OR-combined
// with each other; tag filters are AND-combined with the key clause.
type RunDataQuery struct {
	Key           string
	Keys          []string
	KeyStartsWith []string
	KeyPattern    string

	Tags          []string
	TagStartsWith []string
	TagMode       TagMode

	IncludeAll bool
	Limit      int
	Offset     int
	SortBy     string
	SortOrder  models.SortOrder
}

// Normalize applies defaults and validates bounds
func (p *RunDataQuery) Normalize() error {
	if p.Limit == 0 {
		p.Limit = DefaultRunDataLimit
	}
	if p.Limit < 1 || p.Limit > MaxRunDataLimit {
		return errors.Newf(errors.KindInvalidInput, "limit must be between 1 and %d", MaxRunDataLimit)
	}
	if p.Offset < 0 {
		return errors.InvalidInput("offset must be non-negative")
	}
	if p.SortBy == "" {
		p.SortBy = "created_at"
	}
	switch p.SortBy {
	case "created_at", "updated_at", "key":
	default:
		return errors.Newf(errors.KindInvalidInput, "unsupported sortBy %q", p.SortBy)
	}
	if p.SortOrder == "" {
		p.SortOrder = models.SortDesc
	}
	if !p.SortOrder.Valid() {
		return errors.Newf(errors.KindInvalidInput, "unsupported sortOrder %q", p.SortOrder)
	}
	if p.TagMode == "" {
		p.TagMode = TagModeAny
	}
	if p.TagMode != TagModeAny && p.TagMode != TagModeAll {
		return errors.Newf(errors.KindInvalidInput, "unsupported tagMode %q", p.TagMode)
	}
	return nil
}

// TagUpdate edits the tag sequence of one run-data row: removals are
// applied first, then additions not already present are appended.
type TagUpdate struct {
	Add    []string
	Remove []string
}

// RunDataSelector addresses rows for deletion: exactly one of Key or ID
type RunDataSelector struct {
	Key *string
	ID  *uuid.UUID
}

// Validate enforces the exactly-one rule
func (s RunDataSelector) Validate() error {
	if (s.Key == nil) == (s.ID == nil) {
		return errors.InvalidInput("exactly one of key or id must be supplied")
	}
	return nil
}
