package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// ScopeKey is the context key for the scoped database connection.
const ScopeKey contextKey = "dbScope"

// Scope holds one pooled connection for the duration of a unit of work.
// A build runs all of its repository calls, DDL and DML on the same connection,
// so its statements execute strictly in order.
type Scope struct {
	Conn *pgxpool.Conn
}

// Close releases the connection to the pool. Safe to call on a nil connection.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
}

// Acquire takes a connection from the pool.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}

// WithScope acquires a connection and returns a context carrying it.
// The cleanup function must be called when the scope is no longer needed.
func (db *DB) WithScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := db.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}

// GetScope retrieves the scoped connection from context.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetScope stores the scoped connection in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}
