package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conduit-lang/jsonapi/internal/cli/config"
	"github.com/conduit-lang/jsonapi/internal/demo"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
	"go.uber.org/zap"

	// database/sql drivers selectable through database.driver
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// openDatabase opens the configured database and returns the SQL dialect of its driver
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, query.Dialect, error) {
	dialect, err := query.DialectFor(cfg.Driver)
	if err != nil {
		return nil, query.Dialect{}, err
	}
	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, query.Dialect{}, fmt.Errorf("failed to open database: %w", err)
	}
	return db, dialect, nil
}

// seedDemo creates the demo tables and fills them when the people table is empty
func seedDemo(ctx context.Context, db *sql.DB, dialect query.Dialect, models *ormschema.Registry, logger *zap.Logger) error {
	if err := demo.CreateTables(ctx, db, dialect); err != nil {
		return err
	}

	var people int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM people").Scan(&people); err != nil {
		return fmt.Errorf("failed to count demo rows: %w", err)
	}
	if people > 0 {
		logger.Info("demo data already present, seeding skipped", zap.Int("people", people))
		return nil
	}

	if err := demo.Seed(ctx, session.New(db, dialect, models, session.WithLogger(logger))); err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}
	logger.Info("demo data seeded")
	return nil
}
