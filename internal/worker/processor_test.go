package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
	"github.com/foreman-dev/foreman/pkg/repository"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

// fakeTaskRepo is an in-memory task store recording status transitions
type fakeTaskRepo struct {
	tasks   map[uuid.UUID]*models.Task
	updates []repository.TaskPatch
	getErr  error
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[uuid.UUID]*models.Task)}
}

func (f *fakeTaskRepo) Create(ctx context.Context, tc tenant.Context, input repository.CreateTaskInput) (*models.Task, error) {
	panic("not used")
}

func (f *fakeTaskRepo) Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Task, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	task, ok := f.tasks[id]
	if !ok {
		return nil, errors.NotFound("task")
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskRepo) Update(ctx context.Context, tc tenant.Context, id uuid.UUID, patch repository.TaskPatch) (*models.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, errors.NotFound("task")
	}
	if patch.Status != nil {
		if task.Status.IsTerminal() && *patch.Status != task.Status {
			return nil, errors.InvalidTransition(string(task.Status), string(*patch.Status))
		}
		task.Status = *patch.Status
	}
	if patch.QueueJobID != nil {
		task.QueueJobID = patch.QueueJobID
	}
	if patch.OutputData != nil {
		task.OutputData = *patch.OutputData
	}
	if patch.ErrorData != nil {
		task.ErrorData = *patch.ErrorData
	}
	f.updates = append(f.updates, patch)
	copied := *task
	return &copied, nil
}

func (f *fakeTaskRepo) List(ctx context.Context, tc tenant.Context, params repository.ListTasksParams) (*models.Page[models.Task], error) {
	panic("not used")
}

func (f *fakeTaskRepo) add(task *models.Task) {
	f.tasks[task.ID] = task
}

func (f *fakeTaskRepo) statuses() []models.TaskStatus {
	var out []models.TaskStatus
	for _, u := range f.updates {
		if u.Status != nil {
			out = append(out, *u.Status)
		}
	}
	return out
}

func newTestBroker(t *testing.T) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := queue.NewRedisQueueWithClient(client, queue.DefaultConfig(), observability.NewNoopLogger())
	require.NoError(t, q.EnsureGroup(context.Background()))
	return q, mr
}

// enqueueAndRead publishes a task id and dequeues it as this consumer
func enqueueAndRead(t *testing.T, q *queue.RedisQueue, taskID uuid.UUID, maxAttempts int) queue.Job {
	t.Helper()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, taskID, queue.EnqueueOptions{MaxAttempts: maxAttempts})
	require.NoError(t, err)
	jobs, err := q.ReadJobs(ctx, "test-worker", 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func pendingCount(t *testing.T, q *queue.RedisQueue) int64 {
	t.Helper()
	n, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	return n
}

func TestProcessCompletesTask(t *testing.T) {
	q, _ := newTestBroker(t)
	repo := newFakeTaskRepo()
	taskID := uuid.New()
	repo.add(&models.Task{ID: taskID, Type: "transcode", Status: models.TaskStatusQueued, MaxRetries: 3})

	p := NewProcessor(repo, q, observability.NewNoopLogger())
	p.Register("transcode", func(ctx context.Context, task *models.Task) (models.JSONValue, error) {
		return models.JSONValue{V: map[string]interface{}{"frames": 240}}, nil
	})

	job := enqueueAndRead(t, q, taskID, 3)
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, []models.TaskStatus{models.TaskStatusRunning, models.TaskStatusCompleted}, repo.statuses())
	require.NotNil(t, repo.tasks[taskID].QueueJobID)
	assert.Equal(t, job.MessageID, *repo.tasks[taskID].QueueJobID)
	assert.NotNil(t, repo.tasks[taskID].OutputData.V)
	assert.Zero(t, pendingCount(t, q), "completed job is acknowledged")
}

func TestProcessDeadLettersUnknownTask(t *testing.T) {
	q, mr := newTestBroker(t)
	repo := newFakeTaskRepo()

	p := NewProcessor(repo, q, observability.NewNoopLogger())

	job := enqueueAndRead(t, q, uuid.New(), 3)
	require.NoError(t, p.Process(context.Background(), job))

	assert.Empty(t, repo.updates, "no status is written for a missing task")
	assert.Zero(t, pendingCount(t, q))

	entries, err := mr.Stream(queue.DefaultConfig().DeadLetterStream())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessSkipsCancelledTask(t *testing.T) {
	q, _ := newTestBroker(t)
	repo := newFakeTaskRepo()
	taskID := uuid.New()
	repo.add(&models.Task{ID: taskID, Type: "transcode", Status: models.TaskStatusCancelled, MaxRetries: 3})

	handlerRan := false
	p := NewProcessor(repo, q, observability.NewNoopLogger())
	p.Register("transcode", func(ctx context.Context, task *models.Task) (models.JSONValue, error) {
		handlerRan = true
		return models.JSONValue{}, nil
	})

	job := enqueueAndRead(t, q, taskID, 3)
	require.NoError(t, p.Process(context.Background(), job))

	assert.False(t, handlerRan)
	assert.Empty(t, repo.updates, "cancelled tasks get no status writes")
	assert.Zero(t, pendingCount(t, q), "cancelled job is acknowledged")
}

func TestProcessMarksRetryingAndLeavesJobPending(t *testing.T) {
	q, _ := newTestBroker(t)
	repo := newFakeTaskRepo()
	taskID := uuid.New()
	repo.add(&models.Task{ID: taskID, Type: "transcode", Status: models.TaskStatusQueued, MaxRetries: 3})

	p := NewProcessor(repo, q, observability.NewNoopLogger())
	p.Register("transcode", func(ctx context.Context, task *models.Task) (models.JSONValue, error) {
		return models.JSONValue{}, fmt.Errorf("upstream timeout")
	})

	// First delivery of three allowed attempts
	job := enqueueAndRead(t, q, taskID, 3)
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, []models.TaskStatus{models.TaskStatusRunning, models.TaskStatusRetrying}, repo.statuses())
	assert.NotNil(t, repo.tasks[taskID].ErrorData.V)
	assert.Equal(t, int64(1), pendingCount(t, q), "retryable job stays pending for redelivery")
}

func TestProcessFailsTaskOnFinalAttempt(t *testing.T) {
	q, _ := newTestBroker(t)
	repo := newFakeTaskRepo()
	taskID := uuid.New()
	repo.add(&models.Task{ID: taskID, Type: "transcode", Status: models.TaskStatusRetrying, MaxRetries: 3})

	p := NewProcessor(repo, q, observability.NewNoopLogger())
	p.Register("transcode", func(ctx context.Context, task *models.Task) (models.JSONValue, error) {
		return models.JSONValue{}, fmt.Errorf("upstream timeout")
	})

	job := enqueueAndRead(t, q, taskID, 3)
	job.Attempts = 3
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, []models.TaskStatus{models.TaskStatusRunning, models.TaskStatusFailed}, repo.statuses())
	assert.Zero(t, pendingCount(t, q), "permanently failed job is acknowledged")
}

func TestProcessTreatsMissingHandlerAsFailure(t *testing.T) {
	q, _ := newTestBroker(t)
	repo := newFakeTaskRepo()
	taskID := uuid.New()
	repo.add(&models.Task{ID: taskID, Type: "unknown-type", Status: models.TaskStatusQueued, MaxRetries: 3})

	p := NewProcessor(repo, q, observability.NewNoopLogger())

	job := enqueueAndRead(t, q, taskID, 3)
	job.Attempts = 3
	require.NoError(t, p.Process(context.Background(), job))

	statuses := repo.statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, models.TaskStatusFailed, statuses[1])
}

func TestProcessAcksAlreadySettledTask(t *testing.T) {
	q, _ := newTestBroker(t)
	repo := newFakeTaskRepo()
	taskID := uuid.New()
	repo.add(&models.Task{ID: taskID, Type: "transcode", Status: models.TaskStatusCompleted, MaxRetries: 3})

	p := NewProcessor(repo, q, observability.NewNoopLogger())

	job := enqueueAndRead(t, q, taskID, 3)
	require.NoError(t, p.Process(context.Background(), job))

	assert.Empty(t, repo.statuses())
	assert.Zero(t, pendingCount(t, q))
}
