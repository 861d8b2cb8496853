package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/adapters/datasource"
	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// TargetColumnResolver attaches the catalog metadata of the generated hub and
// satellite columns to a schema after its DDL has run.
type TargetColumnResolver interface {
	// Resolve fills in Target on every part link and descriptor link it can find and
	// returns how many columns were not found. Missing columns are not an error;
	// the DML synthesizer skips the hub or satellite they belong to.
	Resolve(ctx context.Context, schema *models.DVSchema) (int, error)
}

type targetColumnResolver struct {
	catalog datasource.CatalogLookup
	logger  *zap.Logger
}

// NewTargetColumnResolver creates a resolver reading from catalog.
func NewTargetColumnResolver(catalog datasource.CatalogLookup, logger *zap.Logger) TargetColumnResolver {
	return &targetColumnResolver{
		catalog: catalog,
		logger:  logger.Named("target-resolver"),
	}
}

var _ TargetColumnResolver = (*targetColumnResolver)(nil)

func (r *targetColumnResolver) Resolve(ctx context.Context, schema *models.DVSchema) (int, error) {
	unresolved := 0

	for i := range schema.BusinessKeys {
		bk := &schema.BusinessKeys[i]

		for j := range bk.Descriptors {
			link := &bk.Descriptors[j].Link
			target, err := r.lookup(ctx, schema.DWSchema, bk.Descriptors[j].SatelliteKey().TableName(), link.Alias)
			if err != nil {
				return unresolved, err
			}
			if target == nil {
				unresolved++
			}
			link.Target = target
		}

		for j := range bk.BusinessKeyParts {
			part := &bk.BusinessKeyParts[j]
			target, err := r.lookup(ctx, schema.DWSchema, bk.HubTableName(), part.TargetColumnName())
			if err != nil {
				return unresolved, err
			}
			if target == nil {
				unresolved++
			}
			part.Target = target
		}
	}

	if unresolved > 0 {
		r.logger.Warn("Some target columns could not be resolved",
			zap.String("dw_schema", schema.DWSchema),
			zap.Int("unresolved", unresolved))
	}

	return unresolved, nil
}

func (r *targetColumnResolver) lookup(ctx context.Context, schemaName, table, column string) (*models.ColumnData, error) {
	rows, err := r.catalog.LookupColumn(ctx, schemaName, table, column)
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s.%s: %w", schemaName, table, column, err)
	}

	switch len(rows) {
	case 0:
		r.logger.Warn("Target column not found in catalog",
			zap.String("schema", schemaName),
			zap.String("table", table),
			zap.String("column", column))
		return nil, nil
	case 1:
		target := rows[0]
		return &target, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s.%s matched %d rows",
			apperrors.ErrCatalogInconsistent, schemaName, table, column, len(rows))
	}
}

// AssumeTargets sets every target to the column GenerateDDL would create, without
// consulting the catalog. Used to preview load SQL before any DDL has run.
func AssumeTargets(schema *models.DVSchema) {
	for i := range schema.BusinessKeys {
		bk := &schema.BusinessKeys[i]

		for j := range bk.BusinessKeyParts {
			part := &bk.BusinessKeyParts[j]
			part.Target = &models.ColumnData{
				ID:              uuid.New(),
				SchemaName:      schema.DWSchema,
				TableName:       bk.HubTableName(),
				ColumnName:      part.TargetColumnName(),
				OrdinalPosition: int16(4 + j),
				TypeName:        businessKeyPartType,
			}
		}

		for j := range bk.Descriptors {
			link := &bk.Descriptors[j].Link
			target := &models.ColumnData{
				ID:         uuid.New(),
				SchemaName: schema.DWSchema,
				TableName:  bk.Descriptors[j].SatelliteKey().TableName(),
				ColumnName: link.Alias,
			}
			if link.Source != nil {
				target.TypeName = link.Source.TypeName
			}
			link.Target = target
		}
	}
}
