package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
)

// pagination echoes the effective paging window plus the total match count
type pagination struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// listEnvelope is the response shape of every list endpoint
type listEnvelope[T any] struct {
	Data       []T        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func envelope[T any](page *models.Page[T]) listEnvelope[T] {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	return listEnvelope[T]{
		Data: items,
		Pagination: pagination{
			Total:  page.Total,
			Limit:  page.Limit,
			Offset: page.Offset,
		},
	}
}

type createRunRequest struct {
	InputData models.JSONValue `json:"inputData"`
	Metadata  models.JSONMap   `json:"metadata"`
}

type updateRunRequest struct {
	Status     *models.RunStatus `json:"status"`
	OutputData *models.JSONValue `json:"outputData"`
	ErrorData  *models.JSONValue `json:"errorData"`
	Metadata   *models.JSONMap   `json:"metadata"`
}

type createTaskRequest struct {
	RunID        uuid.UUID        `json:"runId"`
	ParentTaskID *uuid.UUID       `json:"parentTaskId"`
	Type         string           `json:"type"`
	InputData    models.JSONValue `json:"inputData"`
	Metadata     models.JSONMap   `json:"metadata"`
	MaxRetries   *int             `json:"maxRetries"`
	// Enqueue requests immediate publication to the task queue after
	// creation; the response then carries status "queued"
	Enqueue bool `json:"enqueue"`
}

type updateTaskRequest struct {
	Status     *models.TaskStatus `json:"status"`
	OutputData *models.JSONValue  `json:"outputData"`
	ErrorData  *models.JSONValue  `json:"errorData"`
	Metadata   *models.JSONMap    `json:"metadata"`
	QueueJobID *string            `json:"queueJobId"`
}

type createRunDataRequest struct {
	TaskID   uuid.UUID        `json:"taskId"`
	Key      string           `json:"key"`
	Value    models.JSONValue `json:"value"`
	Tags     []string         `json:"tags"`
	Metadata models.JSONMap   `json:"metadata"`
}

type updateTagsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// parseUUIDParam reads a path parameter as a UUID
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errors.Newf(errors.KindInvalidInput, "invalid %s", name)
	}
	return id, nil
}

// parseIntQuery reads an optional integer query parameter
func parseIntQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Newf(errors.KindInvalidInput, "%s must be an integer", name)
	}
	return n, nil
}

// parseLimitQuery reads an optional page-size query parameter. An absent
// parameter returns zero so the entity default applies downstream, but an
// explicit non-positive value is rejected.
func parseLimitQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Newf(errors.KindInvalidInput, "%s must be an integer", name)
	}
	if n < 1 {
		return 0, errors.Newf(errors.KindInvalidInput, "%s must be positive", name)
	}
	return n, nil
}

// parseBoolQuery reads an optional boolean query parameter
func parseBoolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Newf(errors.KindInvalidInput, "%s must be a boolean", name)
	}
	return b, nil
}
