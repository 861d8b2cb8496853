package datasource

import (
	"context"

	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// SQLExecutor is the sink generated DDL and DML batches are handed to.
type SQLExecutor interface {
	// Execute runs a batch of one or more statements without modification.
	// Database errors are returned as-is (wrapped); the executor never retries.
	Execute(ctx context.Context, sqlBatch string) (*ExecuteResult, error)
}

// CatalogLookup resolves physical columns from the database catalog.
type CatalogLookup interface {
	// LookupColumn returns the catalog rows matching schema.table.column.
	// Zero rows means the column does not exist. More than one row is a catalog inconsistency
	// the caller must treat as fatal.
	LookupColumn(ctx context.Context, schemaName, tableName, columnName string) ([]models.ColumnData, error)
}

// ExecuteResult holds the outcome of executing a batch.
type ExecuteResult struct {
	Statements   int   `json:"statements"`
	RowsAffected int64 `json:"rows_affected"`
}
