package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
	"github.com/foreman-dev/foreman/pkg/repository"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunRepo struct {
	createFn func(ctx context.Context, tc tenant.Context, input repository.CreateRunInput) (*models.Run, error)
	getFn    func(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Run, error)
	updateFn func(ctx context.Context, tc tenant.Context, id uuid.UUID, patch repository.RunPatch) (*models.Run, error)
	listFn   func(ctx context.Context, tc tenant.Context, params repository.ListRunsParams) (*models.Page[models.Run], error)
}

func (f *fakeRunRepo) Create(ctx context.Context, tc tenant.Context, input repository.CreateRunInput) (*models.Run, error) {
	return f.createFn(ctx, tc, input)
}

func (f *fakeRunRepo) Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Run, error) {
	return f.getFn(ctx, tc, id)
}

func (f *fakeRunRepo) Update(ctx context.Context, tc tenant.Context, id uuid.UUID, patch repository.RunPatch) (*models.Run, error) {
	return f.updateFn(ctx, tc, id, patch)
}

func (f *fakeRunRepo) List(ctx context.Context, tc tenant.Context, params repository.ListRunsParams) (*models.Page[models.Run], error) {
	return f.listFn(ctx, tc, params)
}

type fakeTaskRepo struct {
	createFn func(ctx context.Context, tc tenant.Context, input repository.CreateTaskInput) (*models.Task, error)
	getFn    func(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Task, error)
	updateFn func(ctx context.Context, tc tenant.Context, id uuid.UUID, patch repository.TaskPatch) (*models.Task, error)
	listFn   func(ctx context.Context, tc tenant.Context, params repository.ListTasksParams) (*models.Page[models.Task], error)
}

func (f *fakeTaskRepo) Create(ctx context.Context, tc tenant.Context, input repository.CreateTaskInput) (*models.Task, error) {
	return f.createFn(ctx, tc, input)
}

func (f *fakeTaskRepo) Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Task, error) {
	return f.getFn(ctx, tc, id)
}

func (f *fakeTaskRepo) Update(ctx context.Context, tc tenant.Context, id uuid.UUID, patch repository.TaskPatch) (*models.Task, error) {
	return f.updateFn(ctx, tc, id, patch)
}

func (f *fakeTaskRepo) List(ctx context.Context, tc tenant.Context, params repository.ListTasksParams) (*models.Page[models.Task], error) {
	return f.listFn(ctx, tc, params)
}

type fakeRunDataRepo struct {
	createFn     func(ctx context.Context, tc tenant.Context, input repository.CreateRunDataInput) (*models.RunData, error)
	queryFn      func(ctx context.Context, tc tenant.Context, runID uuid.UUID, params repository.RunDataQuery) (*models.Page[models.RunData], error)
	updateTagsFn func(ctx context.Context, tc tenant.Context, dataID uuid.UUID, update repository.TagUpdate) (*models.RunData, error)
	deleteFn     func(ctx context.Context, tc tenant.Context, runID uuid.UUID, selector repository.RunDataSelector) (int64, error)
}

func (f *fakeRunDataRepo) Create(ctx context.Context, tc tenant.Context, input repository.CreateRunDataInput) (*models.RunData, error) {
	return f.createFn(ctx, tc, input)
}

func (f *fakeRunDataRepo) Query(ctx context.Context, tc tenant.Context, runID uuid.UUID, params repository.RunDataQuery) (*models.Page[models.RunData], error) {
	return f.queryFn(ctx, tc, runID, params)
}

func (f *fakeRunDataRepo) UpdateTags(ctx context.Context, tc tenant.Context, dataID uuid.UUID, update repository.TagUpdate) (*models.RunData, error) {
	return f.updateTagsFn(ctx, tc, dataID, update)
}

func (f *fakeRunDataRepo) Delete(ctx context.Context, tc tenant.Context, runID uuid.UUID, selector repository.RunDataSelector) (int64, error) {
	return f.deleteFn(ctx, tc, runID, selector)
}

type fakeQueue struct {
	enqueueFn func(ctx context.Context, taskID uuid.UUID, opts queue.EnqueueOptions) (string, error)
	pingErr   error
}

func (f *fakeQueue) Enqueue(ctx context.Context, taskID uuid.UUID, opts queue.EnqueueOptions) (string, error) {
	if f.enqueueFn == nil {
		return "1-0", nil
	}
	return f.enqueueFn(ctx, taskID, opts)
}

func (f *fakeQueue) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeQueue) Close() error { return nil }

// newTestRouter builds a router with the full middleware chain and the
// given APIs registered under /api/v1
func newTestRouter(register func(v1 *gin.RouterGroup)) *gin.Engine {
	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware())
	v1.Use(TenantMiddleware())
	register(v1)
	return router
}

// doJSON performs an authenticated tenant-scoped request
func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("x-org-id", "org-a")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		API: config.APIConfig{
			ListenAddress:  ":0",
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
		},
		Queue: queue.DefaultConfig(),
	}
}

func noopLogger() observability.Logger {
	return observability.NewNoopLogger()
}
