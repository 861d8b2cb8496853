package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/auto-dw/pkg/adapters/datasource"
	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// mockDVRepo stores persisted schemas in memory, latest last.
type mockDVRepo struct {
	persisted  map[string][]*models.DVSchema
	persistErr error
	loadErr    error
}

func newMockDVRepo() *mockDVRepo {
	return &mockDVRepo{persisted: make(map[string][]*models.DVSchema)}
}

func (m *mockDVRepo) Persist(ctx context.Context, buildID string, schema *models.DVSchema) error {
	if m.persistErr != nil {
		return m.persistErr
	}
	m.persisted[buildID] = append(m.persisted[buildID], cloneSchema(schema))
	return nil
}

func (m *mockDVRepo) Load(ctx context.Context, buildID string) (*models.DVSchema, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	versions := m.persisted[buildID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("build %s: %w", buildID, apperrors.ErrNotFound)
	}
	return cloneSchema(versions[len(versions)-1]), nil
}

func (m *mockDVRepo) ListBuilds(ctx context.Context) ([]*models.DVBuild, error) {
	var builds []*models.DVBuild
	for id, versions := range m.persisted {
		latest := versions[len(versions)-1]
		builds = append(builds, &models.DVBuild{
			BuildID: id, SchemaID: latest.ID, DWSchema: latest.DWSchema, BusinessKeys: len(latest.BusinessKeys),
		})
	}
	return builds, nil
}

// mockClassificationRepo serves a fixed feed for any build id.
type mockClassificationRepo struct {
	records         []models.ColumnClassification
	statuses        []*models.ColumnStatus
	buildCalls      []string
	minConfidence   float64
	statusThreshold float64
	err             error
}

func (m *mockClassificationRepo) CreateBuildCall(ctx context.Context, buildID string, minConfidence float64) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.buildCalls = append(m.buildCalls, buildID)
	m.minConfidence = minConfidence
	return int64(len(m.records)), nil
}

func (m *mockClassificationRepo) ListByBuild(ctx context.Context, buildID string) ([]models.ColumnClassification, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func (m *mockClassificationRepo) ListColumnStatus(ctx context.Context, threshold float64) ([]*models.ColumnStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.statusThreshold = threshold
	return m.statuses, nil
}

// mockCatalog answers lookups from a set of existing "schema.table.column" names.
type mockCatalog struct {
	columns   map[string]int // value = number of rows to return
	lookups   []string
	lookupErr error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{columns: make(map[string]int)}
}

func (m *mockCatalog) add(schema, table, column string) {
	m.columns[schema+"."+table+"."+column] = 1
}

// addAll registers every column DDL for schema would create.
func (m *mockCatalog) addAll(schema *models.DVSchema) {
	for i := range schema.BusinessKeys {
		bk := &schema.BusinessKeys[i]
		for j := range bk.BusinessKeyParts {
			m.add(schema.DWSchema, bk.HubTableName(), bk.BusinessKeyParts[j].TargetColumnName())
		}
		for j := range bk.Descriptors {
			m.add(schema.DWSchema, bk.Descriptors[j].SatelliteKey().TableName(), bk.Descriptors[j].Link.Alias)
		}
	}
}

func (m *mockCatalog) LookupColumn(ctx context.Context, schemaName, tableName, columnName string) ([]models.ColumnData, error) {
	key := schemaName + "." + tableName + "." + columnName
	m.lookups = append(m.lookups, key)
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	var rows []models.ColumnData
	for i := 0; i < m.columns[key]; i++ {
		rows = append(rows, models.ColumnData{
			SchemaName: schemaName, TableName: tableName, ColumnName: columnName, TypeName: "character varying",
		})
	}
	return rows, nil
}

// mockExecutor records batches and reports one affected row per INSERT statement.
type mockExecutor struct {
	batches []string
	err     error
}

func (m *mockExecutor) Execute(ctx context.Context, sqlBatch string) (*datasource.ExecuteResult, error) {
	m.batches = append(m.batches, sqlBatch)
	if m.err != nil {
		return nil, m.err
	}
	inserts := strings.Count(sqlBatch, "INSERT INTO")
	return &datasource.ExecuteResult{Statements: inserts, RowsAffected: int64(inserts)}, nil
}

// classification builds one feed record.
func classification(table string, oid uint32, column, typ string, ordinal int16, role models.ColumnRole, bkName string) models.ColumnClassification {
	if bkName == "" {
		bkName = models.BusinessKeyNameNA
	}
	return models.ColumnClassification{
		SchemaName:      "public",
		TableName:       table,
		TableOID:        oid,
		ColumnName:      column,
		ColumnTypeName:  typ,
		OrdinalPosition: ordinal,
		SystemID:        7,
		Role:            role,
		BusinessKeyName: bkName,
	}
}

// customerFeed is the customer table: a business key part, a descriptor and a sensitive descriptor.
func customerFeed() []models.ColumnClassification {
	return []models.ColumnClassification{
		classification("customer", 16384, "customer_id", "integer", 1, models.ColumnRoleBusinessKeyPart, "customer"),
		classification("customer", 16384, "city", "character varying(80)", 2, models.ColumnRoleDescriptor, ""),
		classification("customer", 16384, "zip", "character varying(10)", 3, models.ColumnRoleDescriptorSensitive, ""),
	}
}
