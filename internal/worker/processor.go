// Package worker consumes the task queue and drives tasks through their
// lifecycle. The broker payload carries only the task identifier; all
// substantive state is fetched from and written back to the database.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
	"github.com/foreman-dev/foreman/pkg/repository"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

// HandlerFunc executes one task and returns its output
type HandlerFunc func(ctx context.Context, task *models.Task) (models.JSONValue, error)

// jobBroker is the slice of the queue the processor needs to settle jobs
type jobBroker interface {
	Ack(ctx context.Context, job queue.Job) error
	DeadLetter(ctx context.Context, job queue.Job, reason string) error
}

// Processor applies the worker state machine to dequeued jobs. It operates
// under a root tenant context because jobs from every organization flow
// through the same stream.
type Processor struct {
	tasks    repository.TaskRepository
	broker   jobBroker
	handlers map[string]HandlerFunc
	tc       tenant.Context
	logger   observability.Logger
}

func NewProcessor(tasks repository.TaskRepository, broker jobBroker, logger observability.Logger) *Processor {
	return &Processor{
		tasks:    tasks,
		broker:   broker,
		handlers: make(map[string]HandlerFunc),
		tc:       tenant.UpgradeToRoot("queue worker", logger),
		logger:   logger,
	}
}

// Register binds a handler to a task type. Not safe to call once the
// worker is consuming.
func (p *Processor) Register(taskType string, handler HandlerFunc) {
	p.handlers[taskType] = handler
}

// Process settles one job: the task is fetched, executed, and its outcome
// written back. Every path acknowledges the job except a retryable failure,
// which leaves it pending for the stale-job claimer to redeliver.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	task, err := p.fetchTask(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, errors.KindNotFound) {
			// The task's run was deleted or the reference is stale.
			// Permanently failed at the broker, never retried.
			return p.broker.DeadLetter(ctx, job, "task not found")
		}
		return err
	}

	if task.Status == models.TaskStatusCancelled {
		p.logger.Info("Skipping cancelled task", map[string]interface{}{"task_id": task.ID.String()})
		return p.broker.Ack(ctx, job)
	}

	running := models.TaskStatusRunning
	task, err = p.tasks.Update(ctx, p.tc, task.ID, repository.TaskPatch{
		Status:     &running,
		QueueJobID: &job.MessageID,
	})
	if err != nil {
		if errors.Is(err, errors.KindInvalidTransition) {
			// Already settled by another path; nothing left to do
			return p.broker.Ack(ctx, job)
		}
		return err
	}

	output, handlerErr := p.dispatch(ctx, task)
	if handlerErr == nil {
		completed := models.TaskStatusCompleted
		if _, err := p.tasks.Update(ctx, p.tc, task.ID, repository.TaskPatch{
			Status:     &completed,
			OutputData: &output,
		}); err != nil {
			return err
		}
		return p.broker.Ack(ctx, job)
	}

	return p.settleFailure(ctx, task, job, handlerErr)
}

// settleFailure records a handler error as failed or retrying depending on
// the broker's delivery count.
func (p *Processor) settleFailure(ctx context.Context, task *models.Task, job queue.Job, handlerErr error) error {
	errData := models.JSONValue{V: map[string]interface{}{
		"message": handlerErr.Error(),
		"attempt": job.Attempts,
	}}

	if job.Attempts >= job.MaxAttempts {
		failed := models.TaskStatusFailed
		if _, err := p.tasks.Update(ctx, p.tc, task.ID, repository.TaskPatch{
			Status:    &failed,
			ErrorData: &errData,
		}); err != nil {
			return err
		}
		p.logger.Error("Task permanently failed", map[string]interface{}{
			"task_id":  task.ID.String(),
			"type":     task.Type,
			"attempts": job.Attempts,
			"error":    handlerErr.Error(),
		})
		return p.broker.Ack(ctx, job)
	}

	retrying := models.TaskStatusRetrying
	if _, err := p.tasks.Update(ctx, p.tc, task.ID, repository.TaskPatch{
		Status:    &retrying,
		ErrorData: &errData,
	}); err != nil {
		return err
	}
	p.logger.Warn("Task will be retried", map[string]interface{}{
		"task_id":  task.ID.String(),
		"type":     task.Type,
		"attempts": job.Attempts,
		"error":    handlerErr.Error(),
	})
	// Left unacknowledged; the claimer redelivers after the idle window
	return nil
}

// dispatch runs the registered handler for the task's type
func (p *Processor) dispatch(ctx context.Context, task *models.Task) (models.JSONValue, error) {
	handler, ok := p.handlers[task.Type]
	if !ok {
		return models.JSONValue{}, fmt.Errorf("no handler registered for task type %q", task.Type)
	}
	return handler(ctx, task)
}

// fetchTask retrieves the task, retrying transient failures. not_found is
// definitive and returned immediately.
func (p *Processor) fetchTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task *models.Task
	operation := func() error {
		var err error
		task, err = p.tasks.Get(ctx, p.tc, id)
		if err != nil {
			if errors.Is(err, errors.KindNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return task, nil
}
