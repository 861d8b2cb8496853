// Package postgres implements the datasource interfaces on top of a pgx pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/auto-dw/pkg/database"
)

// withConn runs fn on the connection scoped to ctx, or on a connection acquired
// from pool for the duration of the call when ctx carries none.
func withConn(ctx context.Context, pool *pgxpool.Pool, fn func(conn *pgxpool.Conn) error) error {
	if scope, ok := database.GetScope(ctx); ok {
		return fn(scope.Conn)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}
