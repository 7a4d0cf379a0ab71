// Package postgres implements the Foreman repositories against PostgreSQL.
// All lifecycle rules live here: first-time timestamp stamps, terminal
// absorption, run counter maintenance and the run-data query semantics.
// Tenant isolation is enforced by the row-level policies; no query in this
// package filters on org_id itself.
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

const runColumns = `id, org_id, status, input_data, output_data, error_data, metadata,
	total_tasks, completed_tasks, failed_tasks,
	created_at, updated_at, started_at, completed_at, duration_ms`

type runRepository struct {
	db     *database.Database
	logger observability.Logger
	tracer observability.StartSpanFunc
}

// NewRunRepository creates the run repository
func NewRunRepository(db *database.Database, logger observability.Logger, tracer observability.StartSpanFunc) repository.RunRepository {
	return &runRepository{db: db, logger: logger, tracer: tracer}
}

// Create inserts a new run with status pending and zeroed counters
func (r *runRepository) Create(ctx context.Context, tc tenant.Context, input repository.CreateRunInput) (*models.Run, error) {
	ctx, span := r.tracer(ctx, "RunRepository.Create")
	defer span.End()

	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := models.NowMillis()
	run := &models.Run{
		ID:        uuid.New(),
		OrgID:     tc.OrgID(),
		Status:    models.RunStatusPending,
		InputData: input.InputData,
		Metadata:  input.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run (id, org_id, status, input_data, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.ID, run.OrgID, run.Status, run.InputData, run.Metadata, run.CreatedAt, run.UpdatedAt)
		return pkgerrors.Wrap(err, "failed to insert run")
	})
	if err != nil {
		r.logger.Error("Failed to create run", map[string]interface{}{
			"org_id": tc.OrgID(),
			"error":  err.Error(),
		})
		return nil, err
	}

	r.logger.Info("Created run", map[string]interface{}{
		"run_id": run.ID,
		"org_id": run.OrgID,
	})
	return run, nil
}

// Get loads a run visible under the tenant context
func (r *runRepository) Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*models.Run, error) {
	ctx, span := r.tracer(ctx, "RunRepository.Get")
	defer span.End()

	var run models.Run
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &run, `SELECT `+runColumns+` FROM run WHERE id = $1`, id)
		if err == sql.ErrNoRows {
			return errors.NotFound("run")
		}
		return pkgerrors.Wrap(err, "failed to get run")
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Update applies a partial update with the transition rules of the run
// lifecycle: first running sets started_at, any terminal status sets
// completed_at and duration_ms, and terminal statuses are absorbing.
func (r *runRepository) Update(ctx context.Context, tc tenant.Context, id uuid.UUID, patch repository.RunPatch) (*models.Run, error) {
	ctx, span := r.tracer(ctx, "RunRepository.Update")
	defer span.End()

	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var run models.Run
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &run, `SELECT `+runColumns+` FROM run WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("run")
			}
			return pkgerrors.Wrap(err, "failed to lock run")
		}

		now := models.NowMillis()
		if patch.Status != nil && *patch.Status != run.Status {
			if run.Status.IsTerminal() {
				return errors.InvalidTransition(string(run.Status), string(*patch.Status))
			}
			run.Status = *patch.Status
			switch {
			case run.Status == models.RunStatusRunning:
				if run.StartedAt == nil {
					run.StartedAt = &now
				}
			case run.Status.IsTerminal():
				run.CompletedAt = &now
				start := run.CreatedAt
				if run.StartedAt != nil {
					start = *run.StartedAt
				}
				duration := now - start
				run.DurationMs = &duration
			}
		}
		if patch.OutputData != nil {
			run.OutputData = *patch.OutputData
		}
		if patch.ErrorData != nil {
			run.ErrorData = *patch.ErrorData
		}
		if patch.Metadata != nil {
			run.Metadata = *patch.Metadata
		}
		run.UpdatedAt = now

		_, err := tx.ExecContext(ctx, `
			UPDATE run SET status = $2, output_data = $3, error_data = $4, metadata = $5,
				updated_at = $6, started_at = $7, completed_at = $8, duration_ms = $9
			WHERE id = $1`,
			run.ID, run.Status, run.OutputData, run.ErrorData, run.Metadata,
			run.UpdatedAt, run.StartedAt, run.CompletedAt, run.DurationMs)
		return pkgerrors.Wrap(err, "failed to update run")
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			r.logger.Error("Failed to update run", map[string]interface{}{
				"run_id": id,
				"org_id": tc.OrgID(),
				"error":  err.Error(),
			})
		}
		return nil, err
	}
	return &run, nil
}

// List returns a page of runs with the total count under the same filter
func (r *runRepository) List(ctx context.Context, tc tenant.Context, params repository.ListRunsParams) (*models.Page[models.Run], error) {
	ctx, span := r.tracer(ctx, "RunRepository.List")
	defer span.End()

	if err := params.Normalize(); err != nil {
		return nil, err
	}

	where := ""
	args := []interface{}{}
	if params.Status != nil {
		where = "WHERE status = $1"
		args = append(args, *params.Status)
	}

	// sort column and order are validated by Normalize, safe to interpolate
	listQuery := fmt.Sprintf(`SELECT %s FROM run %s ORDER BY %s %s NULLS LAST LIMIT %d OFFSET %d`,
		runColumns, where, params.SortBy, sortKeyword(params.SortOrder), params.Limit, params.Offset)
	countQuery := "SELECT count(*) FROM run " + where

	page := &models.Page[models.Run]{
		Items:  []models.Run{},
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &page.Items, listQuery, args...); err != nil {
			return pkgerrors.Wrap(err, "failed to list runs")
		}
		return pkgerrors.Wrap(tx.GetContext(ctx, &page.Total, countQuery, args...), "failed to count runs")
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func sortKeyword(o models.SortOrder) string {
	if o == models.SortAsc {
		return "ASC"
	}
	return "DESC"
}
