// Package testhelpers provides utilities for testing auto-dw components against a real PostgreSQL.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/database"
)

// PostgresImage is the stock image integration tests run against. pgcrypto ships with it.
const PostgresImage = "postgres:16-alpine"

// TestDB holds a shared test database container with auto_dw migrations applied.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "auto_dw_test",
			"POSTGRES_USER":     "auto_dw",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The entrypoint restarts the server once after init; wait for the second start.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://auto_dw:test_password@%s:%s/auto_dw_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	// golang-migrate needs database/sql
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// ScopedContext returns a context carrying a pooled connection, released on test cleanup.
func (tdb *TestDB) ScopedContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cleanup, err := tdb.DB.WithScope(context.Background())
	if err != nil {
		t.Fatalf("failed to acquire scoped connection: %v", err)
	}
	t.Cleanup(cleanup)
	return ctx
}

// UniqueSchema creates an empty schema with a random suffix and drops it on cleanup,
// so tests sharing the container do not see each other's tables.
func (tdb *TestDB) UniqueSchema(t *testing.T, prefix string) string {
	t.Helper()

	name := prefix + "_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	ctx := context.Background()

	if _, err := tdb.DB.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA "%s"`, name)); err != nil {
		t.Fatalf("failed to create schema %s: %v", name, err)
	}
	t.Cleanup(func() {
		_, _ = tdb.DB.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, name))
	})
	return name
}

// Exec runs statements on the shared pool, failing the test on error.
func (tdb *TestDB) Exec(t *testing.T, statements ...string) {
	t.Helper()

	for _, stmt := range statements {
		if _, err := tdb.DB.Exec(context.Background(), stmt); err != nil {
			t.Fatalf("failed to execute %q: %v", stmt, err)
		}
	}
}

// CountRows returns SELECT COUNT(*) FROM schema.table.
func (tdb *TestDB) CountRows(t *testing.T, schema, table string) int {
	t.Helper()

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"."%s"`, schema, table)
	if err := tdb.DB.QueryRow(context.Background(), query).Scan(&n); err != nil {
		t.Fatalf("failed to count %s.%s: %v", schema, table, err)
	}
	return n
}
