package main

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/observability"
)

// Migrations run as the unrestricted role: they create tables, roles, and
// the row-level security policies themselves.
func main() {
	logger := observability.NewLogger("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := sql.Open("postgres", cfg.Database.RootDSN())
	if err != nil {
		logger.Fatal("Failed to open database", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db); err != nil {
		logger.Fatal("Migration failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Migrations applied", nil)
}
