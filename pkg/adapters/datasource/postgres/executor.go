package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/adapters/datasource"
	"github.com/ekaya-inc/auto-dw/pkg/logging"
)

// Executor runs generated SQL batches against PostgreSQL.
type Executor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ datasource.SQLExecutor = (*Executor)(nil)

// NewExecutor creates an executor over pool.
func NewExecutor(pool *pgxpool.Pool, logger *zap.Logger) *Executor {
	return &Executor{
		pool:   pool,
		logger: logger.Named("sql-executor"),
	}
}

// Execute sends the batch over the simple query protocol, so a batch may hold
// any number of semicolon-separated statements. Postgres runs a simple-protocol
// batch as one implicit transaction unless it contains its own transaction control.
func (e *Executor) Execute(ctx context.Context, sqlBatch string) (*datasource.ExecuteResult, error) {
	start := time.Now()
	result := &datasource.ExecuteResult{}

	err := withConn(ctx, e.pool, func(conn *pgxpool.Conn) error {
		// ReadAll consumes every statement's result, so the command tags of
		// all INSERTs in the batch are counted, not just the last one.
		results, err := conn.Conn().PgConn().Exec(ctx, sqlBatch).ReadAll()
		if err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
		for _, r := range results {
			if r.Err != nil {
				return fmt.Errorf("error during execution: %w", r.Err)
			}
			result.Statements++
			result.RowsAffected += r.CommandTag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		e.logger.Error("SQL batch failed",
			zap.String("sql", logging.SanitizeQuery(sqlBatch)),
			zap.Error(err))
		return nil, err
	}

	e.logger.Debug("SQL batch executed",
		zap.Int("statements", result.Statements),
		zap.Int64("rows_affected", result.RowsAffected),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}
