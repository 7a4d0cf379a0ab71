package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"

	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/repository"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

const taskColumns = `id, org_id, run_id, parent_task_id, type, status,
	input_data, output_data, error_data, metadata,
	retry_count, max_retries, queue_job_id,
	created_at, updated_at, queued_at, started_at, completed_at, duration_ms`

type taskRepository struct {
	db     *database.Database
	logger observability.Logger
	tracer observability.StartSpanFunc
}

// NewTaskRepository creates the task repository
func NewTaskRepository(db *database.Database, logger observability.Logger, tracer observability.StartSpanFunc) repository.TaskRepository {
	return &taskRepository{db: db, logger: logger, tracer: tracer}
}

// Create inserts a task and increments the parent run's total_tasks in the
// same transaction. The run row is locked so concurrent creates serialize
// on the counter.
func (r *taskRepository) Create(ctx context.Context, tc tenant.Context, input repository.CreateTaskInput) (*models.Task, error) {
	ctx, span := r.tracer(ctx, "TaskRepository.Create")
	defer span.End()

	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := models.NowMillis()
	task := &models.Task{
		ID:           uuid.New(),
		RunID:        input.RunID,
		ParentTaskID: input.ParentTaskID,
		Type:         input.Type,
		Status:       models.TaskStatusPending,
		InputData:    input.InputData,
		Metadata:     input.Metadata,
		MaxRetries:   input.EffectiveMaxRetries(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		var orgID string
		err := tx.GetContext(ctx, &orgID, `SELECT org_id FROM run WHERE id = $1 FOR UPDATE`, input.RunID)
		if err == sql.ErrNoRows {
			return errors.NotFound("run")
		}
		if err != nil {
			return pkgerrors.Wrap(err, "failed to lock run")
		}
		task.OrgID = orgID

		if input.ParentTaskID != nil {
			var parentRunID uuid.UUID
			err := tx.GetContext(ctx, &parentRunID, `SELECT run_id FROM task WHERE id = $1`, *input.ParentTaskID)
			if err == sql.ErrNoRows {
				return errors.NotFound("parent task")
			}
			if err != nil {
				return pkgerrors.Wrap(err, "failed to load parent task")
			}
			if parentRunID != input.RunID {
				return errors.NotFound("parent task")
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task (id, org_id, run_id, parent_task_id, type, status,
				input_data, metadata, retry_count, max_retries, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11)`,
			task.ID, task.OrgID, task.RunID, task.ParentTaskID, task.Type, task.Status,
			task.InputData, task.Metadata, task.MaxRetries, task.CreatedAt, task.UpdatedAt)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to insert task")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE run SET total_tasks = total_tasks + 1, updated_at = $2 WHERE id = $1`,
			task.RunID, now)
		return pkgerrors.Wrap(err, "failed to increment total_tasks")
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			r.logger.Error("Failed to create task", map[string]interface{}{
				"run_id": input.RunID,
				"org_id": tc.OrgID(),
				"error":  err.Error(),
			})
		}
		return nil, err
	}

	r.logger.Info("Created task", map[string]interface{}{
		"task_id": task.ID,
		"run_id":  task.RunID,
		"type":    task.Type,
	})
	return task, nil
}

// Get loads a task visible under the tenant context
func (r *taskRepository) Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Task, error) {
	ctx, span := r.tracer(ctx, "TaskRepository.Get")
	defer span.End()

	var task models.Task
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &task, `SELECT `+taskColumns+` FROM task WHERE id = $1`, id)
		if err == sql.ErrNoRows {
			return errors.NotFound("task")
		}
		return pkgerrors.Wrap(err, "failed to get task")
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Update applies a partial update with the task transition rules. The task
// row is locked first, then the run row when counters must change; that
// ordering avoids deadlock when two tasks of the same run finish
// concurrently.
func (r *taskRepository) Update(ctx context.Context, tc tenant.Context, id uuid.UUID, patch repository.TaskPatch) (*models.Task, error) {
	ctx, span := r.tracer(ctx, "TaskRepository.Update")
	defer span.End()

	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var task models.Task
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &task, `SELECT `+taskColumns+` FROM task WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("task")
			}
			return pkgerrors.Wrap(err, "failed to lock task")
		}

		now := models.NowMillis()
		priorStatus := task.Status

		if patch.Status != nil && *patch.Status != priorStatus {
			if priorStatus.IsTerminal() {
				return errors.InvalidTransition(string(priorStatus), string(*patch.Status))
			}
			task.Status = *patch.Status

			// First-time stamps are set-if-null
			switch task.Status {
			case models.TaskStatusQueued:
				if task.QueuedAt == nil {
					task.QueuedAt = &now
				}
			case models.TaskStatusRunning:
				if task.StartedAt == nil {
					task.StartedAt = &now
				}
			case models.TaskStatusRetrying:
				task.RetryCount++
			case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
				if task.CompletedAt == nil {
					task.CompletedAt = &now
					start := task.CreatedAt
					if task.StartedAt != nil {
						start = *task.StartedAt
					}
					duration := now - start
					task.DurationMs = &duration
				}
			}

			// Counter updates are suppressed when the prior status was
			// already terminal; cancelled never counts.
			if !priorStatus.IsTerminal() {
				var counterSQL string
				switch task.Status {
				case models.TaskStatusCompleted:
					counterSQL = `UPDATE run SET completed_tasks = completed_tasks + 1, updated_at = $2 WHERE id = $1`
				case models.TaskStatusFailed:
					counterSQL = `UPDATE run SET failed_tasks = failed_tasks + 1, updated_at = $2 WHERE id = $1`
				}
				if counterSQL != "" {
					var runID uuid.UUID
					if err := tx.GetContext(ctx, &runID, `SELECT id FROM run WHERE id = $1 FOR UPDATE`, task.RunID); err != nil {
						return pkgerrors.Wrap(err, "failed to lock run")
					}
					if _, err := tx.ExecContext(ctx, counterSQL, task.RunID, now); err != nil {
						return pkgerrors.Wrap(err, "failed to update run counters")
					}
				}
			}
		}

		if patch.OutputData != nil {
			task.OutputData = *patch.OutputData
		}
		if patch.ErrorData != nil {
			task.ErrorData = *patch.ErrorData
		}
		if patch.Metadata != nil {
			task.Metadata = *patch.Metadata
		}
		if patch.QueueJobID != nil {
			task.QueueJobID = patch.QueueJobID
		}
		task.UpdatedAt = now

		_, err := tx.ExecContext(ctx, `
			UPDATE task SET status = $2, output_data = $3, error_data = $4, metadata = $5,
				retry_count = $6, queue_job_id = $7, updated_at = $8,
				queued_at = $9, started_at = $10, completed_at = $11, duration_ms = $12
			WHERE id = $1`,
			task.ID, task.Status, task.OutputData, task.ErrorData, task.Metadata,
			task.RetryCount, task.QueueJobID, task.UpdatedAt,
			task.QueuedAt, task.StartedAt, task.CompletedAt, task.DurationMs)
		return pkgerrors.Wrap(err, "failed to update task")
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			r.logger.Error("Failed to update task", map[string]interface{}{
				"task_id": id,
				"org_id":  tc.OrgID(),
				"error":   err.Error(),
			})
		}
		return nil, err
	}
	return &task, nil
}

// List returns a page of tasks with the total count under the same filter
func (r *taskRepository) List(ctx context.Context, tc tenant.Context, params repository.ListTasksParams) (*models.Page[models.Task], error) {
	ctx, span := r.tracer(ctx, "TaskRepository.List")
	defer span.End()

	if err := params.Normalize(); err != nil {
		return nil, err
	}

	where := ""
	args := []interface{}{}
	appendClause := func(cond string, arg interface{}) {
		args = append(args, arg)
		cond = fmt.Sprintf(cond, len(args))
		if where == "" {
			where = "WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	if params.RunID != nil {
		appendClause("run_id = $%d", *params.RunID)
	}
	if params.Status != nil {
		appendClause("status = $%d", *params.Status)
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM task %s ORDER BY %s %s NULLS LAST LIMIT %d OFFSET %d`,
		taskColumns, where, params.SortBy, sortKeyword(params.SortOrder), params.Limit, params.Offset)
	countQuery := "SELECT count(*) FROM task " + where

	page := &models.Page[models.Task]{
		Items:  []models.Task{},
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &page.Items, listQuery, args...); err != nil {
			return pkgerrors.Wrap(err, "failed to list tasks")
		}
		return pkgerrors.Wrap(tx.GetContext(ctx, &page.Total, countQuery, args...), "failed to count tasks")
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}
