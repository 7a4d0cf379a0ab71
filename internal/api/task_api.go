package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
	"github.com/foreman-dev/foreman/pkg/repository"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

// TaskAPI handles task lifecycle endpoints. When a create request asks for
// immediate enqueue, the task identifier is published to the queue and the
// task is marked queued before the response is written.
type TaskAPI struct {
	repo   repository.TaskRepository
	queue  queue.TaskQueue
	logger observability.Logger
}

func NewTaskAPI(repo repository.TaskRepository, q queue.TaskQueue, logger observability.Logger) *TaskAPI {
	return &TaskAPI{repo: repo, queue: q, logger: logger}
}

// RegisterRoutes registers task endpoints under /tasks
func (a *TaskAPI) RegisterRoutes(router *gin.RouterGroup) {
	tasks := router.Group("/tasks")
	tasks.POST("", a.createTask)
	tasks.GET("", a.listTasks)
	tasks.GET(":id", a.getTask)
	tasks.PATCH(":id", a.updateTask)
}

func (a *TaskAPI) createTask(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.logger, errors.Wrap(err, errors.KindInvalidInput, "invalid request body"))
		return
	}

	task, err := a.repo.Create(c.Request.Context(), tc, repository.CreateTaskInput{
		RunID:        req.RunID,
		ParentTaskID: req.ParentTaskID,
		Type:         req.Type,
		InputData:    req.InputData,
		Metadata:     req.Metadata,
		MaxRetries:   req.MaxRetries,
	})
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	if req.Enqueue {
		task, err = a.enqueueTask(c, tc, task)
		if err != nil {
			respondError(c, a.logger, err)
			return
		}
	}
	c.JSON(http.StatusCreated, task)
}

// enqueueTask publishes the task identifier and records the queued status.
// The task row exists either way; a broker failure surfaces as an error
// with the task already created.
func (a *TaskAPI) enqueueTask(c *gin.Context, tc tenant.Context, task *models.Task) (*models.Task, error) {
	if a.queue == nil {
		return nil, errors.New(errors.KindInternal, "task queue unavailable")
	}
	_, err := a.queue.Enqueue(c.Request.Context(), task.ID, queue.EnqueueOptions{
		MaxAttempts: task.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	status := models.TaskStatusQueued
	return a.repo.Update(c.Request.Context(), tc, task.ID, repository.TaskPatch{Status: &status})
}

func (a *TaskAPI) getTask(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	task, err := a.repo.Get(c.Request.Context(), tc, id)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *TaskAPI) updateTask(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.logger, errors.Wrap(err, errors.KindInvalidInput, "invalid request body"))
		return
	}

	task, err := a.repo.Update(c.Request.Context(), tc, id, repository.TaskPatch{
		Status:     req.Status,
		OutputData: req.OutputData,
		ErrorData:  req.ErrorData,
		Metadata:   req.Metadata,
		QueueJobID: req.QueueJobID,
	})
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *TaskAPI) listTasks(c *gin.Context) {
	tc, ok := mustTenant(c)
	if !ok {
		return
	}
	params, err := parseListTasksParams(c)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	page, err := a.repo.List(c.Request.Context(), tc, params)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}

func parseListTasksParams(c *gin.Context) (repository.ListTasksParams, error) {
	var params repository.ListTasksParams
	var err error
	if params.Limit, err = parseLimitQuery(c, "limit"); err != nil {
		return params, err
	}
	if params.Offset, err = parseIntQuery(c, "offset"); err != nil {
		return params, err
	}
	if raw := c.Query("runId"); raw != "" {
		runID, err := uuid.Parse(raw)
		if err != nil {
			return params, errors.InvalidInput("invalid runId")
		}
		params.RunID = &runID
	}
	if raw := c.Query("status"); raw != "" {
		status := models.TaskStatus(raw)
		params.Status = &status
	}
	params.SortBy = c.Query("sortBy")
	params.SortOrder = models.SortOrder(c.Query("sortOrder"))
	return params, nil
}
