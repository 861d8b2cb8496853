//go:build integration

package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/auto-dw/pkg/audit"
	"github.com/ekaya-inc/auto-dw/pkg/config"
	"github.com/ekaya-inc/auto-dw/pkg/models"
	"github.com/ekaya-inc/auto-dw/pkg/repositories"
	"github.com/ekaya-inc/auto-dw/pkg/testhelpers"
)

type integrationEnv struct {
	testDB    *testhelpers.TestDB
	ctx       context.Context
	svc       BuildService
	srcSchema string
	dwSchema  string
}

func setupIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	env := &integrationEnv{
		testDB:    testDB,
		ctx:       testDB.ScopedContext(t),
		srcSchema: testDB.UniqueSchema(t, "src"),
		dwSchema:  testDB.UniqueSchema(t, "dv"),
	}

	logger := zap.NewNop()
	dvRepo := repositories.NewDVRepoRepository()
	env.svc = NewBuildService(
		NewSchemaAssembler(dvRepo, audit.NewSecurityAuditor(logger), logger),
		NewTargetColumnResolver(postgres.NewCatalog(testDB.DB.Pool), logger),
		postgres.NewExecutor(testDB.DB.Pool, logger),
		repositories.NewClassificationRepository(),
		dvRepo,
		config.WarehouseConfig{DWSchema: env.dwSchema, ConfidenceThreshold: 0.8},
		logger,
	)
	return env
}

// customerSource creates the customer source table and returns its feed.
func (e *integrationEnv) customerSource(t *testing.T) []models.ColumnClassification {
	t.Helper()

	e.testDB.Exec(t,
		fmt.Sprintf(`CREATE TABLE "%s".customer (customer_id INTEGER PRIMARY KEY, city VARCHAR(80), zip VARCHAR(10))`, e.srcSchema),
		fmt.Sprintf(`INSERT INTO "%s".customer VALUES (1, 'Oslo', '0150'), (2, 'Bergen', '5003'), (3, 'Oslo', '0151')`, e.srcSchema),
	)

	records := customerFeed()
	for i := range records {
		records[i].SchemaName = e.srcSchema
	}
	return records
}

func (e *integrationEnv) scalar(t *testing.T, query string, args ...any) string {
	t.Helper()
	var out string
	require.NoError(t, e.testDB.DB.QueryRow(context.Background(), query, args...).Scan(&out))
	return out
}

func TestBuildService_Integration_RunCreatesAndLoadsVault(t *testing.T) {
	env := setupIntegrationEnv(t)
	records := env.customerSource(t)

	built, loaded, err := env.svc.Run(env.ctx, BuildRequest{BuildID: "it-run", Records: records})
	require.NoError(t, err)

	assert.Equal(t, env.dwSchema, built.Schema.DWSchema)
	assert.Zero(t, loaded.Unresolved)
	assert.Empty(t, loaded.Skipped)

	// 3 customers + 2 ghost rows.
	assert.Equal(t, 5, env.testDB.CountRows(t, env.dwSchema, "hub_customer"))
	assert.Equal(t, 3, env.testDB.CountRows(t, env.dwSchema, "sat_customer"))
	assert.Equal(t, 3, env.testDB.CountRows(t, env.dwSchema, "sat_customer_sensitive"))
	assert.Equal(t, int64(11), loaded.RowsAffected)

	zipType := env.scalar(t, `
		SELECT format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a JOIN pg_class c ON c.oid = a.attrelid JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = 'sat_customer_sensitive' AND a.attname = 'zip'`, env.dwSchema)
	assert.Equal(t, "character varying(10)", zipType)

	source := env.scalar(t, fmt.Sprintf(
		`SELECT record_source FROM "%s".hub_customer WHERE customer_id_bk = '2'`, env.dwSchema))
	assert.Equal(t, env.srcSchema, source)
}

func TestBuildService_Integration_ReloadIsIdempotent(t *testing.T) {
	env := setupIntegrationEnv(t)
	records := env.customerSource(t)

	_, _, err := env.svc.Run(env.ctx, BuildRequest{BuildID: "it-idem", Records: records})
	require.NoError(t, err)

	loaded, err := env.svc.Load(env.ctx, "it-idem")
	require.NoError(t, err)
	assert.Zero(t, loaded.RowsAffected)

	// Rebuilding the same feed leaves existing tables and rows untouched.
	_, loaded, err = env.svc.Run(env.ctx, BuildRequest{BuildID: "it-idem", Records: records})
	require.NoError(t, err)
	assert.Zero(t, loaded.RowsAffected)

	assert.Equal(t, 5, env.testDB.CountRows(t, env.dwSchema, "hub_customer"))
	assert.Equal(t, "2", env.scalar(t, fmt.Sprintf(
		`SELECT COUNT(*)::TEXT FROM "%s".hub_customer WHERE record_source = 'SYSTEM'`, env.dwSchema)))
}

func TestBuildService_Integration_GhostRecordHashes(t *testing.T) {
	env := setupIntegrationEnv(t)
	records := env.customerSource(t)

	_, _, err := env.svc.Run(env.ctx, BuildRequest{BuildID: "it-ghost", Records: records})
	require.NoError(t, err)

	for _, value := range []string{"-1", "-2"} {
		hk := env.scalar(t, fmt.Sprintf(
			`SELECT hub_customer_hk FROM "%s".hub_customer WHERE customer_id_bk = $1`, env.dwSchema), value)
		expected := env.scalar(t, `SELECT ENCODE(public.DIGEST($1::TEXT, 'sha256'), 'hex')`, value)
		assert.Equal(t, expected, hk)

		ts := env.scalar(t, fmt.Sprintf(
			`SELECT load_ts::DATE::TEXT FROM "%s".hub_customer WHERE customer_id_bk = $1`, env.dwSchema), value)
		assert.Equal(t, "0001-01-01", ts)
	}
}

func TestBuildService_Integration_SatelliteTracksChanges(t *testing.T) {
	env := setupIntegrationEnv(t)
	records := env.customerSource(t)

	_, _, err := env.svc.Run(env.ctx, BuildRequest{BuildID: "it-change", Records: records})
	require.NoError(t, err)

	env.testDB.Exec(t, fmt.Sprintf(`UPDATE "%s".customer SET city = 'Trondheim' WHERE customer_id = 1`, env.srcSchema))

	loaded, err := env.svc.Load(env.ctx, "it-change")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.RowsAffected)

	assert.Equal(t, 5, env.testDB.CountRows(t, env.dwSchema, "hub_customer"))
	assert.Equal(t, 4, env.testDB.CountRows(t, env.dwSchema, "sat_customer"))
	assert.Equal(t, 3, env.testDB.CountRows(t, env.dwSchema, "sat_customer_sensitive"))

	cities := env.scalar(t, fmt.Sprintf(`
		SELECT STRING_AGG(s.city, ',' ORDER BY s.city)
		FROM "%[1]s".sat_customer s JOIN "%[1]s".hub_customer h USING (hub_customer_hk)
		WHERE h.customer_id_bk = '1'`, env.dwSchema))
	assert.Equal(t, "Oslo,Trondheim", cities)
}

func TestBuildService_Integration_CompositeKeyHashes(t *testing.T) {
	env := setupIntegrationEnv(t)
	env.testDB.Exec(t,
		fmt.Sprintf(`CREATE TABLE "%s".pairs (a TEXT, b TEXT, note TEXT)`, env.srcSchema),
		fmt.Sprintf(`INSERT INTO "%s".pairs VALUES ('A', 'B', 'x'), ('A', 'C', 'y'), ('A', 'B', 'x')`, env.srcSchema),
	)
	records := []models.ColumnClassification{
		classification("pairs", 42, "a", "text", 1, models.ColumnRoleBusinessKeyPart, "pair"),
		classification("pairs", 42, "b", "text", 2, models.ColumnRoleBusinessKeyPart, ""),
		classification("pairs", 42, "note", "text", 3, models.ColumnRoleDescriptor, ""),
	}
	for i := range records {
		records[i].SchemaName = env.srcSchema
	}

	_, _, err := env.svc.Run(env.ctx, BuildRequest{BuildID: "it-pairs", Records: records})
	require.NoError(t, err)

	// Duplicate source rows collapse to one hub row.
	assert.Equal(t, 4, env.testDB.CountRows(t, env.dwSchema, "hub_pair"))

	ab := env.scalar(t, fmt.Sprintf(
		`SELECT hub_pair_hk FROM "%s".hub_pair WHERE a_bk = 'A' AND b_bk = 'B'`, env.dwSchema))
	ac := env.scalar(t, fmt.Sprintf(
		`SELECT hub_pair_hk FROM "%s".hub_pair WHERE a_bk = 'A' AND b_bk = 'C'`, env.dwSchema))
	assert.NotEqual(t, ab, ac)
	assert.Equal(t, env.scalar(t, `SELECT ENCODE(public.DIGEST('A,B', 'sha256'), 'hex')`), ab)
}

func TestBuildService_Integration_NullPartsKeepTheirPosition(t *testing.T) {
	env := setupIntegrationEnv(t)
	env.testDB.Exec(t,
		fmt.Sprintf(`CREATE TABLE "%s".pairs (a TEXT, b TEXT, note TEXT, memo TEXT)`, env.srcSchema),
		fmt.Sprintf(`INSERT INTO "%s".pairs VALUES (NULL, 'A', NULL, 'm'), ('A', NULL, 'm', NULL)`, env.srcSchema),
	)
	records := []models.ColumnClassification{
		classification("pairs", 43, "a", "text", 1, models.ColumnRoleBusinessKeyPart, "pair"),
		classification("pairs", 43, "b", "text", 2, models.ColumnRoleBusinessKeyPart, ""),
		classification("pairs", 43, "note", "text", 3, models.ColumnRoleDescriptor, ""),
		classification("pairs", 43, "memo", "text", 4, models.ColumnRoleDescriptor, ""),
	}
	for i := range records {
		records[i].SchemaName = env.srcSchema
	}

	_, _, err := env.svc.Run(env.ctx, BuildRequest{BuildID: "it-null-pairs", Records: records})
	require.NoError(t, err)

	// Two ghost records plus one row per source row.
	assert.Equal(t, 4, env.testDB.CountRows(t, env.dwSchema, "hub_pair"))
	assert.Equal(t, 2, env.testDB.CountRows(t, env.dwSchema, "sat_pairs"))

	distinctDiffs := env.scalar(t, fmt.Sprintf(
		`SELECT COUNT(DISTINCT sat_pairs_hd)::TEXT FROM "%s".sat_pairs`, env.dwSchema))
	assert.Equal(t, "2", distinctDiffs)

	nullFirst := env.scalar(t, fmt.Sprintf(
		`SELECT hub_pair_hk FROM "%s".hub_pair WHERE a_bk IS NULL AND b_bk = 'A'`, env.dwSchema))
	assert.Equal(t, env.scalar(t, `SELECT ENCODE(public.DIGEST(',A', 'sha256'), 'hex')`), nullFirst)
}

func TestBuildService_Integration_BuildFromClassificationTables(t *testing.T) {
	env := setupIntegrationEnv(t)
	env.customerSource(t)

	ctx := context.Background()
	type col struct {
		column, typ, category, bkName string
		ordinal                       int16
		confidence                    float64
	}
	cols := []col{
		{"customer_id", "integer", "Business Key Part", "Customer", 1, 0.95},
		{"city", "character varying(80)", "Descriptor", "NA", 2, 0.9},
		{"zip", "character varying(10)", "Descriptor - Sensitive", "NA", 3, 0.5},
	}
	var ids []int64
	for _, c := range cols {
		var id int64
		require.NoError(t, env.testDB.DB.QueryRow(ctx, `
			INSERT INTO auto_dw.source_objects
				(schema_oid, schema_name, table_oid, table_name, column_ordinal_position, column_name, column_type_name)
			VALUES (2200, $1, 777001, 'customer', $2, $3, $4)
			RETURNING pk_source_objects`, env.srcSchema, c.ordinal, c.column, c.typ).Scan(&id))
		ids = append(ids, id)
		env.testDB.Exec(t, fmt.Sprintf(`
			INSERT INTO auto_dw.transformer_responses
				(fk_source_objects, model_name, category, business_key_name, confidence_score, reason)
			VALUES (%d, 'test-model', '%s', '%s', %f, 'seeded')`, id, c.category, c.bkName, c.confidence))
	}
	t.Cleanup(func() {
		_, _ = env.testDB.DB.Exec(ctx, `
			DELETE FROM auto_dw.build_call WHERE fk_transformer_responses IN (
				SELECT pk_transformer_responses FROM auto_dw.transformer_responses WHERE fk_source_objects = ANY($1))`, ids)
		_, _ = env.testDB.DB.Exec(ctx, `DELETE FROM auto_dw.transformer_responses WHERE fk_source_objects = ANY($1)`, ids)
		_, _ = env.testDB.DB.Exec(ctx, `DELETE FROM auto_dw.source_objects WHERE pk_source_objects = ANY($1)`, ids)
	})

	built, loaded, err := env.svc.Run(env.ctx, BuildRequest{BuildID: "it-feed-" + env.dwSchema})
	require.NoError(t, err)

	// zip is below the confidence threshold and is left out of the build.
	require.Len(t, built.Schema.BusinessKeys, 1)
	assert.Len(t, built.Schema.BusinessKeys[0].Descriptors, 1)
	assert.Equal(t, 3, env.testDB.CountRows(t, env.dwSchema, "sat_customer"))
	assert.Empty(t, loaded.Skipped)
}
