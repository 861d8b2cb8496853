package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/auto-dw/pkg/adapters/datasource"
	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// Catalog looks up physical columns in pg_catalog.
type Catalog struct {
	pool *pgxpool.Pool
}

var _ datasource.CatalogLookup = (*Catalog)(nil)

// NewCatalog creates a catalog lookup over pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// lookupColumnQuery reads the column's attribute row directly. format_type renders the
// declared type including modifiers (e.g. character varying(80)), which is what
// satellite DDL copies verbatim. pg_control_system() identifies the cluster.
const lookupColumnQuery = `
	SELECT
		(SELECT system_identifier FROM pg_control_system())::BIGINT AS system_id,
		n.nspname,
		c.oid,
		c.relname,
		a.attname,
		a.attnum,
		format_type(a.atttypid, a.atttypmod)
	FROM pg_catalog.pg_attribute a
	JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1
	  AND c.relname = $2
	  AND a.attname = $3
	  AND a.attnum > 0
	  AND NOT a.attisdropped
	ORDER BY c.oid`

// LookupColumn returns every catalog row for schema.table.column; normally zero or one.
func (c *Catalog) LookupColumn(ctx context.Context, schemaName, tableName, columnName string) ([]models.ColumnData, error) {
	var columns []models.ColumnData

	err := withConn(ctx, c.pool, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, lookupColumnQuery, schemaName, tableName, columnName)
		if err != nil {
			return fmt.Errorf("query column %s.%s.%s: %w", schemaName, tableName, columnName, err)
		}
		defer rows.Close()

		for rows.Next() {
			col := models.ColumnData{ID: uuid.New()}
			if err := rows.Scan(&col.SystemID, &col.SchemaName, &col.TableOID, &col.TableName,
				&col.ColumnName, &col.OrdinalPosition, &col.TypeName); err != nil {
				return fmt.Errorf("scan column: %w", err)
			}
			columns = append(columns, col)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate columns: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return columns, nil
}
