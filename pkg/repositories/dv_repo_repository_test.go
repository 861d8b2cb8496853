//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/testhelpers"
)

func sampleSchema() *models.DVSchema {
	now := time.Now().UTC().Truncate(time.Microsecond)
	source := models.ColumnData{
		ID: uuid.New(), SystemID: 7, SchemaName: "public", TableOID: 16384,
		TableName: "customer", ColumnName: "customer_id", OrdinalPosition: 1, TypeName: "integer",
	}
	city := models.ColumnData{
		ID: uuid.New(), SystemID: 7, SchemaName: "public", TableOID: 16384,
		TableName: "customer", ColumnName: "city", OrdinalPosition: 2, TypeName: "text",
	}
	return &models.DVSchema{
		ID:         uuid.New(),
		DWSchema:   "dv",
		CreatedAt:  now,
		ModifiedAt: now,
		BusinessKeys: []models.BusinessKey{{
			ID:   uuid.New(),
			Name: "customer",
			BusinessKeyParts: []models.BusinessKeyPartLink{{
				ID: uuid.New(), Alias: "customer_id", SourceColumns: []models.ColumnData{source},
			}},
			Descriptors: []models.Descriptor{{
				ID:    uuid.New(),
				Link:  models.DescriptorLink{ID: uuid.New(), Alias: "city", Source: &city},
				Orbit: "customer",
			}},
		}},
	}
}

func TestDVRepoRepository_RoundTrip(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := testDB.ScopedContext(t)
	repo := NewDVRepoRepository()

	buildID := uuid.NewString()
	schema := sampleSchema()

	require.NoError(t, repo.Persist(ctx, buildID, schema))

	loaded, err := repo.Load(ctx, buildID)
	require.NoError(t, err)
	assert.Equal(t, schema, loaded)
}

func TestDVRepoRepository_LoadReturnsLatestVersion(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := testDB.ScopedContext(t)
	repo := NewDVRepoRepository()

	buildID := uuid.NewString()
	first := sampleSchema()
	require.NoError(t, repo.Persist(ctx, buildID, first))

	second := sampleSchema()
	second.DWSchema = "vault"
	require.NoError(t, repo.Persist(ctx, buildID, second))

	loaded, err := repo.Load(ctx, buildID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ID)
	assert.Equal(t, "vault", loaded.DWSchema)
}

func TestDVRepoRepository_LoadNotFound(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := testDB.ScopedContext(t)
	repo := NewDVRepoRepository()

	_, err := repo.Load(ctx, "no-such-build-"+uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDVRepoRepository_LoadUndecodableSchema(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := testDB.ScopedContext(t)
	repo := NewDVRepoRepository()

	buildID := uuid.NewString()
	testDB.Exec(t, `INSERT INTO auto_dw.dv_repo (build_id, schema) VALUES ('`+buildID+`', '{"Business Keys": "not-a-list"}')`)

	_, err := repo.Load(ctx, buildID)
	assert.ErrorIs(t, err, apperrors.ErrSchemaDecode)
}

func TestDVRepoRepository_ListBuilds(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := testDB.ScopedContext(t)
	repo := NewDVRepoRepository()

	buildID := uuid.NewString()
	schema := sampleSchema()
	require.NoError(t, repo.Persist(ctx, buildID, schema))
	require.NoError(t, repo.Persist(ctx, buildID, schema))

	builds, err := repo.ListBuilds(ctx)
	require.NoError(t, err)

	var found []*models.DVBuild
	for _, b := range builds {
		if b.BuildID == buildID {
			found = append(found, b)
		}
	}
	require.Len(t, found, 1, "one entry per build id")
	assert.Equal(t, schema.ID, found[0].SchemaID)
	assert.Equal(t, "dv", found[0].DWSchema)
	assert.Equal(t, 1, found[0].BusinessKeys)
}

func TestDVRepoRepository_RequiresScope(t *testing.T) {
	repo := NewDVRepoRepository()

	err := repo.Persist(context.Background(), "b", sampleSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database scope")
}
