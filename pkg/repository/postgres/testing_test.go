package postgres

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

var runCols = []string{
	"id", "org_id", "status", "input_data", "output_data", "error_data", "metadata",
	"total_tasks", "completed_tasks", "failed_tasks",
	"created_at", "updated_at", "started_at", "completed_at", "duration_ms",
}

var taskCols = []string{
	"id", "org_id", "run_id", "parent_task_id", "type", "status",
	"input_data", "output_data", "error_data", "metadata",
	"retry_count", "max_retries", "queue_job_id",
	"created_at", "updated_at", "queued_at", "started_at", "completed_at", "duration_ms",
}

var runDataCols = []string{
	"id", "org_id", "run_id", "task_id", "key", "value", "tags", "metadata",
	"created_at", "updated_at",
}

// newMockDB builds a Database whose rls pool is backed by sqlmock. Tests
// run under an org context, so only the rls pool is exercised.
func newMockDB(t *testing.T) (*database.Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return database.NewWithPools(sqlxDB, sqlxDB, observability.NewNoopLogger()), mock
}

func orgContext(t *testing.T) tenant.Context {
	t.Helper()
	tc, err := tenant.NewContext("org-a")
	require.NoError(t, err)
	return tc
}

// expectTenantTxBegin sets up the transaction prologue every repository
// operation issues: BEGIN followed by the session org binding.
func expectTenantTxBegin(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("app.current_org_id", "org-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
}
