package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/repository"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

const runDataColumns = `id, org_id, run_id, task_id, key, value, tags, metadata, created_at, updated_at`

type runDataRepository struct {
	db     *database.Database
	logger observability.Logger
	tracer observability.StartSpanFunc
}

// NewRunDataRepository creates the run-data repository
func NewRunDataRepository(db *database.Database, logger observability.Logger, tracer observability.StartSpanFunc) repository.RunDataRepository {
	return &runDataRepository{db: db, logger: logger, tracer: tracer}
}

// Create appends a new revision for (run_id, key). Existing revisions are
// never overwritten.
func (r *runDataRepository) Create(ctx context.Context, tc tenant.Context, input repository.CreateRunDataInput) (*models.RunData, error) {
	ctx, span := r.tracer(ctx, "RunDataRepository.Create")
	defer span.End()

	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := models.NowMillis()
	data := &models.RunData{
		ID:        uuid.New(),
		RunID:     input.RunID,
		TaskID:    input.TaskID,
		Key:       input.Key,
		Value:     input.Value,
		Tags:      pq.StringArray(models.DedupeTags(input.Tags)),
		Metadata:  input.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		var orgID string
		err := tx.GetContext(ctx, &orgID, `SELECT org_id FROM run WHERE id = $1`, input.RunID)
		if err == sql.ErrNoRows {
			return errors.NotFound("run")
		}
		if err != nil {
			return pkgerrors.Wrap(err, "failed to load run")
		}
		data.OrgID = orgID

		var taskRunID uuid.UUID
		err = tx.GetContext(ctx, &taskRunID, `SELECT run_id FROM task WHERE id = $1`, input.TaskID)
		if err == sql.ErrNoRows {
			return errors.NotFound("task")
		}
		if err != nil {
			return pkgerrors.Wrap(err, "failed to load task")
		}
		if taskRunID != input.RunID {
			return errors.NotFound("task")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_data (id, org_id, run_id, task_id, key, value, tags, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			data.ID, data.OrgID, data.RunID, data.TaskID, data.Key, data.Value,
			data.Tags, data.Metadata, data.CreatedAt, data.UpdatedAt)
		return pkgerrors.Wrap(err, "failed to insert run data")
	})
	if err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			r.logger.Error("Failed to create run data", map[string]interface{}{
				"run_id": input.RunID,
				"key":    input.Key,
				"error":  err.Error(),
			})
		}
		return nil, err
	}
	return data, nil
}

// Query filters run data within a run. By default only the latest revision
// per key is returned; pagination applies after that collapse.
func (r *runDataRepository) Query(ctx context.Context, tc tenant.Context, runID uuid.UUID, params repository.RunDataQuery) (*models.Page[models.RunData], error) {
	ctx, span := r.tracer(ctx, "RunDataRepository.Query")
	defer span.End()

	if err := params.Normalize(); err != nil {
		return nil, err
	}

	where, args := buildRunDataFilter(runID, params)

	var base, countBase string
	if params.IncludeAll {
		base = fmt.Sprintf(`SELECT %s FROM run_data WHERE %s`, runDataColumns, where)
		countBase = fmt.Sprintf(`SELECT count(*) FROM run_data WHERE %s`, where)
	} else {
		// Latest per key: greatest created_at wins, id breaks ties
		base = fmt.Sprintf(`SELECT %s FROM (
			SELECT DISTINCT ON (key) %s FROM run_data WHERE %s
			ORDER BY key, created_at DESC, id DESC
		) latest`, runDataColumns, runDataColumns, where)
		countBase = fmt.Sprintf(`SELECT count(DISTINCT key) FROM run_data WHERE %s`, where)
	}

	listQuery := fmt.Sprintf(`%s ORDER BY %s %s, id %s LIMIT %d OFFSET %d`,
		base, params.SortBy, sortKeyword(params.SortOrder), sortKeyword(params.SortOrder),
		params.Limit, params.Offset)

	page := &models.Page[models.RunData]{
		Items:  []models.RunData{},
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM run WHERE id = $1)`, runID); err != nil {
			return pkgerrors.Wrap(err, "failed to check run")
		}
		if !exists {
			return errors.NotFound("run")
		}
		if err := tx.SelectContext(ctx, &page.Items, listQuery, args...); err != nil {
			return pkgerrors.Wrap(err, "failed to query run data")
		}
		return pkgerrors.Wrap(tx.GetContext(ctx, &page.Total, countBase, args...), "failed to count run data")
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// UpdateTags edits the tag sequence of one row: removals first, then
// additions not already present are appended in order.
func (r *runDataRepository) UpdateTags(ctx context.Context, tc tenant.Context, dataID uuid.UUID, update repository.TagUpdate) (*models.RunData, error) {
	ctx, span := r.tracer(ctx, "RunDataRepository.UpdateTags")
	defer span.End()

	var data models.RunData
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &data, `SELECT `+runDataColumns+` FROM run_data WHERE id = $1 FOR UPDATE`, dataID); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("run data")
			}
			return pkgerrors.Wrap(err, "failed to lock run data")
		}

		data.Tags = pq.StringArray(applyTagUpdate(data.Tags, update))
		data.UpdatedAt = models.NowMillis()

		_, err := tx.ExecContext(ctx,
			`UPDATE run_data SET tags = $2, updated_at = $3 WHERE id = $1`,
			data.ID, data.Tags, data.UpdatedAt)
		return pkgerrors.Wrap(err, "failed to update tags")
	})
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// Delete removes rows by key or by id within the visible run and returns
// the number deleted. Zero matches is not_found.
func (r *runDataRepository) Delete(ctx context.Context, tc tenant.Context, runID uuid.UUID, selector repository.RunDataSelector) (int64, error) {
	ctx, span := r.tracer(ctx, "RunDataRepository.Delete")
	defer span.End()

	if err := selector.Validate(); err != nil {
		return 0, err
	}

	var deleted int64
	err := r.db.WithTenant(ctx, tc, func(tx *sqlx.Tx) error {
		var res sql.Result
		var err error
		if selector.Key != nil {
			res, err = tx.ExecContext(ctx, `DELETE FROM run_data WHERE run_id = $1 AND key = $2`, runID, *selector.Key)
		} else {
			res, err = tx.ExecContext(ctx, `DELETE FROM run_data WHERE run_id = $1 AND id = $2`, runID, *selector.ID)
		}
		if err != nil {
			return pkgerrors.Wrap(err, "failed to delete run data")
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return pkgerrors.Wrap(err, "failed to read affected rows")
		}
		if deleted == 0 {
			return errors.NotFound("run data")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("Deleted run data", map[string]interface{}{
		"run_id":  runID,
		"deleted": deleted,
	})
	return deleted, nil
}

// buildRunDataFilter assembles the WHERE clause for a run-data query.
// Key filters OR-combine with each other; the tag clause ANDs with them.
func buildRunDataFilter(runID uuid.UUID, params repository.RunDataQuery) (string, []interface{}) {
	args := []interface{}{runID}
	clauses := []string{"run_id = $1"}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var keyOr []string
	if params.Key != "" {
		keyOr = append(keyOr, fmt.Sprintf("key = %s", arg(params.Key)))
	}
	if len(params.Keys) > 0 {
		keyOr = append(keyOr, fmt.Sprintf("key = ANY(%s)", arg(pq.StringArray(params.Keys))))
	}
	for _, prefix := range params.KeyStartsWith {
		keyOr = append(keyOr, fmt.Sprintf("key LIKE %s", arg(escapeLike(prefix)+"%")))
	}
	if params.KeyPattern != "" {
		keyOr = append(keyOr, fmt.Sprintf("key LIKE %s", arg(globToLike(params.KeyPattern))))
	}
	if len(keyOr) > 0 {
		clauses = append(clauses, "("+strings.Join(keyOr, " OR ")+")")
	}

	if len(params.Tags) > 0 {
		op := "&&" // contains any
		if params.TagMode == repository.TagModeAll {
			op = "@>" // contains all
		}
		clauses = append(clauses, fmt.Sprintf("tags %s %s", op, arg(pq.StringArray(params.Tags))))
	}

	if len(params.TagStartsWith) > 0 {
		var prefixClauses []string
		for _, prefix := range params.TagStartsWith {
			prefixClauses = append(prefixClauses,
				fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(tags) tag WHERE tag LIKE %s)", arg(escapeLike(prefix)+"%")))
		}
		joiner := " OR "
		if params.TagMode == repository.TagModeAll {
			joiner = " AND "
		}
		clauses = append(clauses, "("+strings.Join(prefixClauses, joiner)+")")
	}

	return strings.Join(clauses, " AND "), args
}

// globToLike compiles the run-data key glob to a LIKE pattern: `*` matches
// any sequence (including empty), `?` matches exactly one character, and
// every other character is literal. LIKE metacharacters in the input are
// escaped; no regex syntax is honored.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(ch)
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// escapeLike escapes LIKE metacharacters in a literal prefix
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// applyTagUpdate removes first, then appends additions not already present,
// preserving order
func applyTagUpdate(current []string, update repository.TagUpdate) []string {
	removing := make(map[string]struct{}, len(update.Remove))
	for _, t := range update.Remove {
		removing[t] = struct{}{}
	}
	out := make([]string, 0, len(current)+len(update.Add))
	present := make(map[string]struct{}, len(current))
	for _, t := range current {
		if _, gone := removing[t]; gone {
			continue
		}
		out = append(out, t)
		present[t] = struct{}{}
	}
	for _, t := range update.Add {
		if _, ok := present[t]; ok {
			continue
		}
		out = append(out, t)
		present[t] = struct{}{}
	}
	return out
}
