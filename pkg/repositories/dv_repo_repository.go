package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/database"
	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// DVRepoRepository stores versioned Data Vault schemas in auto_dw.dv_repo.
// Rows are append-only; the latest row for a build id is its current schema.
type DVRepoRepository interface {
	Persist(ctx context.Context, buildID string, schema *models.DVSchema) error
	Load(ctx context.Context, buildID string) (*models.DVSchema, error)
	ListBuilds(ctx context.Context) ([]*models.DVBuild, error)
}

type dvRepoRepository struct{}

// NewDVRepoRepository creates a new DVRepoRepository.
func NewDVRepoRepository() DVRepoRepository {
	return &dvRepoRepository{}
}

var _ DVRepoRepository = (*dvRepoRepository)(nil)

func (r *dvRepoRepository) Persist(ctx context.Context, buildID string, schema *models.DVSchema) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	blob, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal dv schema: %w", err)
	}

	query := `INSERT INTO auto_dw.dv_repo (build_id, schema) VALUES ($1, $2)`
	if _, err := scope.Conn.Exec(ctx, query, buildID, blob); err != nil {
		return fmt.Errorf("failed to persist dv schema for build %s: %w", buildID, err)
	}

	return nil
}

func (r *dvRepoRepository) Load(ctx context.Context, buildID string) (*models.DVSchema, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT schema
		FROM auto_dw.dv_repo
		WHERE build_id = $1
		ORDER BY pk_dv_repo DESC
		LIMIT 1`

	var blob []byte
	if err := scope.Conn.QueryRow(ctx, query, buildID).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("build %s: %w", buildID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load dv schema for build %s: %w", buildID, err)
	}

	var schema models.DVSchema
	if err := json.Unmarshal(blob, &schema); err != nil {
		return nil, fmt.Errorf("build %s: %w: %v", buildID, apperrors.ErrSchemaDecode, err)
	}

	return &schema, nil
}

func (r *dvRepoRepository) ListBuilds(ctx context.Context) ([]*models.DVBuild, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT build_id, schema_id, dw_schema, business_keys, insert_time
		FROM (
			SELECT DISTINCT ON (build_id)
				build_id,
				COALESCE((schema->>'ID')::uuid, '00000000-0000-0000-0000-000000000000'::uuid) AS schema_id,
				COALESCE(schema->>'DW Schema', '') AS dw_schema,
				CASE WHEN jsonb_typeof(schema->'Business Keys') = 'array'
					THEN jsonb_array_length(schema->'Business Keys') ELSE 0 END AS business_keys,
				insert_time
			FROM auto_dw.dv_repo
			ORDER BY build_id, pk_dv_repo DESC
		) latest
		ORDER BY insert_time DESC, build_id`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []*models.DVBuild
	for rows.Next() {
		var b models.DVBuild
		if err := rows.Scan(&b.BuildID, &b.SchemaID, &b.DWSchema, &b.BusinessKeys, &b.InsertedAt); err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	return builds, nil
}
