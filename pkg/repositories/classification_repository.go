package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/auto-dw/pkg/database"
	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// Build flags recorded in auto_dw.build_call.
const (
	BuildFlagBuild     = "Build"
	BuildStatusReady   = "RTD"
	sourceObjectActive = `so.current_flag = 'Y' AND so.deleted_flag = 'N'`
)

// ClassificationRepository reads classifier output from the auto_dw bookkeeping tables.
type ClassificationRepository interface {
	// CreateBuildCall snapshots the latest classifier response of every current source column
	// whose confidence is at least minConfidence under buildID. Returns the number of columns.
	CreateBuildCall(ctx context.Context, buildID string, minConfidence float64) (int64, error)
	// ListByBuild returns the classification feed snapshotted for buildID.
	ListByBuild(ctx context.Context, buildID string) ([]models.ColumnClassification, error)
	// ListColumnStatus reports every current source column with its latest classifier response.
	ListColumnStatus(ctx context.Context, threshold float64) ([]*models.ColumnStatus, error)
}

type classificationRepository struct{}

// NewClassificationRepository creates a new ClassificationRepository.
func NewClassificationRepository() ClassificationRepository {
	return &classificationRepository{}
}

var _ ClassificationRepository = (*classificationRepository)(nil)

func (r *classificationRepository) CreateBuildCall(ctx context.Context, buildID string, minConfidence float64) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	query := `
		WITH latest AS (
			SELECT DISTINCT ON (tr.fk_source_objects)
				tr.pk_transformer_responses,
				tr.confidence_score
			FROM auto_dw.transformer_responses tr
			JOIN auto_dw.source_objects so ON so.pk_source_objects = tr.fk_source_objects
			WHERE ` + sourceObjectActive + `
			ORDER BY tr.fk_source_objects, tr.pk_transformer_responses DESC
		)
		INSERT INTO auto_dw.build_call (fk_transformer_responses, build_id, build_flag, build_status)
		SELECT pk_transformer_responses, $1, $2, $3
		FROM latest
		WHERE confidence_score >= $4`

	tag, err := scope.Conn.Exec(ctx, query, buildID, BuildFlagBuild, BuildStatusReady, minConfidence)
	if err != nil {
		return 0, fmt.Errorf("failed to create build call %s: %w", buildID, err)
	}

	return tag.RowsAffected(), nil
}

func (r *classificationRepository) ListByBuild(ctx context.Context, buildID string) ([]models.ColumnClassification, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT
			so.schema_name::TEXT,
			so.table_name::TEXT,
			so.table_oid,
			so.column_name::TEXT,
			so.column_type_name,
			so.column_ordinal_position,
			(SELECT system_identifier FROM pg_control_system())::BIGINT,
			tr.category,
			tr.business_key_name
		FROM auto_dw.build_call bc
		JOIN auto_dw.transformer_responses tr ON tr.pk_transformer_responses = bc.fk_transformer_responses
		JOIN auto_dw.source_objects so ON so.pk_source_objects = tr.fk_source_objects
		WHERE bc.build_id = $1
		ORDER BY so.schema_name, so.table_name, so.column_ordinal_position`

	rows, err := scope.Conn.Query(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list classifications for build %s: %w", buildID, err)
	}
	defer rows.Close()

	var records []models.ColumnClassification
	for rows.Next() {
		var c models.ColumnClassification
		var category string
		if err := rows.Scan(&c.SchemaName, &c.TableName, &c.TableOID, &c.ColumnName, &c.ColumnTypeName,
			&c.OrdinalPosition, &c.SystemID, &category, &c.BusinessKeyName); err != nil {
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		role, err := models.ParseColumnRole(category)
		if err != nil {
			return nil, fmt.Errorf("%s.%s.%s: %w", c.SchemaName, c.TableName, c.ColumnName, err)
		}
		c.Role = role
		records = append(records, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating classifications: %w", err)
	}

	return records, nil
}

func (r *classificationRepository) ListColumnStatus(ctx context.Context, threshold float64) ([]*models.ColumnStatus, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT
			so.schema_name::TEXT,
			so.table_name::TEXT,
			so.column_name::TEXT,
			tr.confidence_score::FLOAT8,
			tr.model_name,
			tr.category,
			tr.reason
		FROM auto_dw.source_objects so
		LEFT JOIN LATERAL (
			SELECT confidence_score, model_name, category, reason
			FROM auto_dw.transformer_responses
			WHERE fk_source_objects = so.pk_source_objects
			ORDER BY pk_transformer_responses DESC
			LIMIT 1
		) tr ON true
		WHERE ` + sourceObjectActive + `
		ORDER BY so.schema_name, so.table_name, so.column_ordinal_position`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list column status: %w", err)
	}
	defer rows.Close()

	var statuses []*models.ColumnStatus
	for rows.Next() {
		var s models.ColumnStatus
		if err := rows.Scan(&s.SchemaName, &s.TableName, &s.ColumnName, &s.ConfidenceScore,
			&s.ModelName, &s.Category, &s.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan column status: %w", err)
		}
		s.Status = models.StatusForConfidence(s.ConfidenceScore, threshold)
		statuses = append(statuses, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column status: %w", err)
	}

	return statuses, nil
}
