package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/auto-dw/pkg/audit"
	"github.com/ekaya-inc/auto-dw/pkg/config"
	"github.com/ekaya-inc/auto-dw/pkg/database"
	"github.com/ekaya-inc/auto-dw/pkg/logging"
	"github.com/ekaya-inc/auto-dw/pkg/repositories"
	"github.com/ekaya-inc/auto-dw/pkg/retry"
	"github.com/ekaya-inc/auto-dw/pkg/services"
)

// app is the wired service graph shared by the CLI commands and the HTTP server.
type app struct {
	db           *database.DB
	builds       services.BuildService
	columnStatus services.ColumnStatusService
}

// newApp connects to the database and wires the services.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	connStr := cfg.Database.ConnectionString()
	logger.Info("Connecting to database",
		zap.String("database", logging.SanitizeConnectionString(connStr)))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
		Retry:          retry.DefaultConfig(),
	}, logger)
	if err != nil {
		return nil, err
	}

	return wire(db, cfg, logger), nil
}

// newOfflineApp wires the services without a database. Only operations that never
// touch the database (planning from a feed file) may be used.
func newOfflineApp(cfg *config.Config, logger *zap.Logger) *app {
	return wire(nil, cfg, logger)
}

func wire(db *database.DB, cfg *config.Config, logger *zap.Logger) *app {
	pool := poolOf(db)

	dvRepo := repositories.NewDVRepoRepository()
	classificationRepo := repositories.NewClassificationRepository()

	return &app{
		db: db,
		builds: services.NewBuildService(
			services.NewSchemaAssembler(dvRepo, audit.NewSecurityAuditor(logger), logger),
			services.NewTargetColumnResolver(postgres.NewCatalog(pool), logger),
			postgres.NewExecutor(pool, logger),
			classificationRepo,
			dvRepo,
			cfg.Warehouse,
			logger,
		),
		columnStatus: services.NewColumnStatusService(classificationRepo, cfg.Warehouse.ConfidenceThreshold, logger),
	}
}

func poolOf(db *database.DB) *pgxpool.Pool {
	if db == nil {
		return nil
	}
	return db.Pool
}

// scoped returns a context holding one connection, so every statement of a command
// runs in order on the same session.
func (a *app) scoped(ctx context.Context) (context.Context, func(), error) {
	return a.db.WithScope(ctx)
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// migrate applies pending auto_dw migrations. The database may still be starting
// when the server comes up, so connection failures are retried.
func migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	return retry.Do(ctx, retry.DefaultConfig(), func() error {
		return database.RunMigrations(sqlDB, logger)
	})
}
