// Package database provides the storage layer for Foreman: two sqlx
// connection pools keyed by database role, tenant-scoped transactions that
// bind the session org id for the row-level policies, and the embedded
// schema migrations.
package database

import (
	"context"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	// PostgreSQL driver
	_ "github.com/lib/pq"

	foremanerrors "github.com/foreman-dev/foreman/pkg/errors"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/tenant"
)

// sessionOrgVar is the transaction-local setting read by the row-level
// policies. set_config with is_local=true clears it at commit/rollback.
const sessionOrgVar = "app.current_org_id"

// Database holds the connection pools for both database roles
type Database struct {
	rls    *sqlx.DB
	root   *sqlx.DB
	config Config
	logger observability.Logger
}

// New connects both pools and verifies connectivity
func New(ctx context.Context, cfg Config, logger observability.Logger) (*Database, error) {
	rls, err := connect(ctx, cfg.RLSDSN(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect rls pool")
	}
	root, err := connect(ctx, cfg.RootDSN(), cfg)
	if err != nil {
		if closeErr := rls.Close(); closeErr != nil {
			log.Printf("Failed to close rls pool: %v", closeErr)
		}
		return nil, errors.Wrap(err, "failed to connect unrestricted pool")
	}
	return &Database{rls: rls, root: root, config: cfg, logger: logger}, nil
}

func connect(ctx context.Context, dsn string, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	return db, nil
}

// NewWithPools creates a Database from existing pools; used by tests
func NewWithPools(rls, root *sqlx.DB, logger observability.Logger) *Database {
	return &Database{rls: rls, root: root, logger: logger}
}

// Pool returns the pool matching the context's role
func (d *Database) Pool(tc tenant.Context) *sqlx.DB {
	if tc.IsRoot() {
		return d.root
	}
	return d.rls
}

// WithTenant runs fn inside a single transaction scoped to the tenant
// context. For non-root contexts the session org id is set first, as a
// transaction-local value, so every statement fn issues runs under the
// row-level policy for that org. Rolls back on error or panic.
func (d *Database) WithTenant(ctx context.Context, tc tenant.Context, fn func(tx *sqlx.Tx) error) error {
	if !tc.Valid() {
		return foremanerrors.New(foremanerrors.KindForbidden, "invalid tenant context")
	}

	tx, err := d.Pool(tc).BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if !tc.IsRoot() {
		if _, err := tx.ExecContext(ctx, "SELECT set_config($1, $2, true)", sessionOrgVar, tc.OrgID()); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "failed to set session org id")
		}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to rollback transaction", map[string]interface{}{
				"error":          rbErr.Error(),
				"original_error": err.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Ping checks connectivity of both pools
func (d *Database) Ping(ctx context.Context) error {
	if err := d.rls.PingContext(ctx); err != nil {
		return errors.Wrap(err, "rls pool unreachable")
	}
	return errors.Wrap(d.root.PingContext(ctx), "unrestricted pool unreachable")
}

// Close closes both pools
func (d *Database) Close() error {
	var errs []string
	if err := d.rls.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := d.root.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
