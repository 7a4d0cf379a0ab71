package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/models"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/repository"
)

func TestGlobToLike(t *testing.T) {
	cases := map[string]string{
		"a.*":        `a.%`,
		"sensor.?":   `sensor._`,
		"plain":      `plain`,
		"100%_done":  `100\%\_done`,
		`back\slash`: `back\\slash`,
		"*":          `%`,
		"a*b?c":      `a%b_c`,
	}
	for pattern, want := range cases {
		assert.Equal(t, want, globToLike(pattern), "pattern %q", pattern)
	}
}

func TestApplyTagUpdate(t *testing.T) {
	current := []string{"a", "b", "c"}

	// Remove first, then append additions not already present
	out := applyTagUpdate(current, repository.TagUpdate{Add: []string{"b", "d"}, Remove: []string{"a"}})
	assert.Equal(t, []string{"b", "c", "d"}, out)

	// Add is idempotent
	out = applyTagUpdate(out, repository.TagUpdate{Add: []string{"d"}})
	assert.Equal(t, []string{"b", "c", "d"}, out)

	// Removing absent tags is a no-op
	out = applyTagUpdate(out, repository.TagUpdate{Remove: []string{"zz"}})
	assert.Equal(t, []string{"b", "c", "d"}, out)
}

func TestBuildRunDataFilterKeyClausesAreORed(t *testing.T) {
	runID := uuid.New()
	where, args := buildRunDataFilter(runID, repository.RunDataQuery{
		Key:           "log",
		KeyStartsWith: []string{"sensor."},
		TagMode:       repository.TagModeAny,
	})
	assert.Contains(t, where, "run_id = $1")
	assert.Contains(t, where, "(key = $2 OR key LIKE $3)")
	assert.Len(t, args, 3)
	assert.Equal(t, `sensor.%`, args[2])
}

func TestBuildRunDataFilterTagModes(t *testing.T) {
	runID := uuid.New()

	whereAny, _ := buildRunDataFilter(runID, repository.RunDataQuery{
		Tags: []string{"x", "y"}, TagMode: repository.TagModeAny,
	})
	assert.Contains(t, whereAny, "tags && $2")

	whereAll, _ := buildRunDataFilter(runID, repository.RunDataQuery{
		Tags: []string{"x", "y"}, TagMode: repository.TagModeAll,
	})
	assert.Contains(t, whereAll, "tags @> $2")

	// Empty tag list in all mode: trivially satisfied, no clause
	whereEmpty, args := buildRunDataFilter(runID, repository.RunDataQuery{TagMode: repository.TagModeAll})
	assert.Equal(t, "run_id = $1", whereEmpty)
	assert.Len(t, args, 1)
}

func TestBuildRunDataFilterTagPrefixes(t *testing.T) {
	runID := uuid.New()

	whereAll, _ := buildRunDataFilter(runID, repository.RunDataQuery{
		TagStartsWith: []string{"env-", "region-"}, TagMode: repository.TagModeAll,
	})
	assert.Contains(t, whereAll, ") AND EXISTS (")

	whereAny, _ := buildRunDataFilter(runID, repository.RunDataQuery{
		TagStartsWith: []string{"env-", "region-"}, TagMode: repository.TagModeAny,
	})
	assert.Contains(t, whereAny, ") OR EXISTS (")
}

func TestRunDataRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	runID := uuid.New()
	taskID := uuid.New()
	expectTenantTxBegin(mock)
	mock.ExpectQuery("SELECT org_id FROM run WHERE id").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}).AddRow("org-a"))
	mock.ExpectQuery("SELECT run_id FROM task WHERE id").
		WithArgs(taskID).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}).AddRow(runID))
	mock.ExpectExec("INSERT INTO run_data").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	data, err := repo.Create(context.Background(), orgContext(t), repository.CreateRunDataInput{
		RunID:  runID,
		TaskID: taskID,
		Key:    "sensor.temp.in",
		Value:  models.JSONValue{V: 21.5},
		Tags:   []string{"b-A", "b-A", "prod"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-A", "prod"}, []string(data.Tags), "tags deduplicated preserving order")
	assert.Equal(t, "org-a", data.OrgID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryCreateTaskInDifferentRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	runID := uuid.New()
	taskID := uuid.New()
	expectTenantTxBegin(mock)
	mock.ExpectQuery("SELECT org_id FROM run WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}).AddRow("org-a"))
	mock.ExpectQuery("SELECT run_id FROM task WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}).AddRow(uuid.New()))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), orgContext(t), repository.CreateRunDataInput{
		RunID:  runID,
		TaskID: taskID,
		Key:    "k",
		Value:  models.JSONValue{V: "v"},
	})
	assert.True(t, errors.Is(err, errors.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryQueryLatestPerKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	runID := uuid.New()
	expectTenantTxBegin(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT DISTINCT ON \\(key\\)").
		WillReturnRows(sqlmock.NewRows(runDataCols).AddRow(
			uuid.New(), "org-a", runID, uuid.New(), "log", []byte(`"v2"`), "{}", nil,
			int64(2000), int64(2000)))
	mock.ExpectQuery("SELECT count\\(DISTINCT key\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	page, err := repo.Query(context.Background(), orgContext(t), runID, repository.RunDataQuery{Key: "log"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "v2", page.Items[0].Value.V)
	assert.Equal(t, int64(1), page.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryQueryIncludeAll(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	runID := uuid.New()
	expectTenantTxBegin(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT (.+) FROM run_data WHERE").
		WillReturnRows(sqlmock.NewRows(runDataCols).
			AddRow(uuid.New(), "org-a", runID, uuid.New(), "log", []byte(`"v2"`), "{}", nil, int64(2000), int64(2000)).
			AddRow(uuid.New(), "org-a", runID, uuid.New(), "log", []byte(`"v1"`), "{}", nil, int64(1000), int64(1000)))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectCommit()

	page, err := repo.Query(context.Background(), orgContext(t), runID, repository.RunDataQuery{
		Key: "log", IncludeAll: true,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryQueryRunNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	expectTenantTxBegin(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.Query(context.Background(), orgContext(t), uuid.New(), repository.RunDataQuery{})
	assert.True(t, errors.Is(err, errors.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryQueryRejectsOversizedLimit(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	_, err := repo.Query(context.Background(), orgContext(t), uuid.New(), repository.RunDataQuery{Limit: 1001})
	assert.True(t, errors.Is(err, errors.KindInvalidInput))
}

func TestRunDataRepositoryUpdateTags(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	id := uuid.New()
	expectTenantTxBegin(mock)
	mock.ExpectQuery("SELECT (.+) FROM run_data WHERE id (.+) FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(runDataCols).AddRow(
			id, "org-a", uuid.New(), uuid.New(), "k", []byte(`"v"`), "{a,b}", nil,
			int64(1000), int64(1000)))
	mock.ExpectExec("UPDATE run_data SET tags").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	data, err := repo.UpdateTags(context.Background(), orgContext(t), id, repository.TagUpdate{
		Add:    []string{"c"},
		Remove: []string{"a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, []string(data.Tags))
	assert.Greater(t, data.UpdatedAt, int64(1000), "tag edits bump updated_at")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryDeleteByKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	runID := uuid.New()
	key := "log"
	expectTenantTxBegin(mock)
	mock.ExpectExec("DELETE FROM run_data WHERE run_id (.+) AND key").
		WithArgs(runID, key).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	deleted, err := repo.Delete(context.Background(), orgContext(t), runID, repository.RunDataSelector{Key: &key})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryDeleteNoMatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	id := uuid.New()
	expectTenantTxBegin(mock)
	mock.ExpectExec("DELETE FROM run_data WHERE run_id (.+) AND id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Delete(context.Background(), orgContext(t), uuid.New(), repository.RunDataSelector{ID: &id})
	assert.True(t, errors.Is(err, errors.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDataRepositoryDeleteSelectorExactlyOne(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewRunDataRepository(db, observability.NewNoopLogger(), observability.NoopStartSpan)

	_, err := repo.Delete(context.Background(), orgContext(t), uuid.New(), repository.RunDataSelector{})
	assert.True(t, errors.Is(err, errors.KindInvalidInput))

	key := "k"
	id := uuid.New()
	_, err = repo.Delete(context.Background(), orgContext(t), uuid.New(), repository.RunDataSelector{Key: &key, ID: &id})
	assert.True(t, errors.Is(err, errors.KindInvalidInput))
}
