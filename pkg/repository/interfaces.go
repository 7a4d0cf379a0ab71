// Package repository defines the data-access interfaces for the Foreman
// core. Every operation takes a tenant context; implementations execute
// their SQL inside a transaction scoped to that context.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

// RunRepository manages the run lifecycle
type RunRepository interface {
	Create(ctx context.Context, tc tenant.Context, input CreateRunInput) (*models.Run, error)
	Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Run, error)
	Update(ctx context.Context, tc tenant.Context, id uuid.UUID, patch RunPatch) (*models.Run, error)
	List(ctx context.Context, tc tenant.Context, params ListRunsParams) (*models.Page[models.Run], error)
}

// TaskRepository manages the task lifecycle and the run counters derived
// from it
type TaskRepository interface {
	Create(ctx context.Context, tc tenant.Context, input CreateTaskInput) (*models.Task, error)
	Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Task, error)
	Update(ctx context.Context, tc tenant.Context, id uuid.UUID, patch TaskPatch) (*models.Task, error)
	List(ctx context.Context, tc tenant.Context, params ListTasksParams) (*models.Page[models.Task], error)
}

// RunDataRepository manages the tagged key/value store scoped to a run
type RunDataRepository interface {
	Create(ctx context.Context, tc tenant.Context, input CreateRunDataInput) (*models.RunData, error)
	Query(ctx context.Context, tc tenant.Context, runID uuid.UUID, params RunDataQuery) (*models.Page[models.RunData], error)
	UpdateTags(ctx context.Context, tc tenant.Context, dataID uuid.UUID, update TagUpdate) (*models.RunData, error)
	Delete(ctx context.Context, tc tenant.Context, runID uuid.UUID, selector RunDataSelector) (int64, error)
}
