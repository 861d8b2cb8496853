package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/models"
	sqlutil "github.com/ekaya-inc/auto-dw/pkg/sql"
)

// Column types of the Data Vault housekeeping columns.
const (
	hashColumnType      = "VARCHAR NOT NULL"
	loadTimestampType   = "TIMESTAMP WITHOUT TIME ZONE NOT NULL"
	recordSourceType    = "VARCHAR NOT NULL"
	businessKeyPartType = "VARCHAR"
)

// sourceTypePattern accepts catalog type strings such as "character varying(80)",
// "numeric(10,2)", "timestamp(6) without time zone", "integer[]" or public."Mood".
// Descriptor types are copied verbatim into DDL, so anything else is rejected.
var sourceTypePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_ ."]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?[A-Za-z0-9_ ]*(\[\d*\])*$`)

// SatellitePlan is one physical satellite after consolidation across business keys.
type SatellitePlan struct {
	Key models.SatelliteKey
	// Owner is the index of the first business key that contributed to this satellite.
	// Its hash-key column is the satellite's hub key column for every contributor.
	Owner int
	// HashKeyColumn is the owner's hub_<name>_hk.
	HashKeyColumn string
	// Columns are the merged descriptor columns, first occurrence of each alias wins.
	Columns []*models.Descriptor
}

// PlanSatellites consolidates descriptors into satellites keyed by (orbit, sensitivity).
// Plans are returned in creation order: by owner, then by first descriptor appearance.
func PlanSatellites(schema *models.DVSchema) []*SatellitePlan {
	var plans []*SatellitePlan
	byKey := make(map[models.SatelliteKey]*SatellitePlan)
	seenAlias := make(map[models.SatelliteKey]map[string]bool)

	for i := range schema.BusinessKeys {
		bk := &schema.BusinessKeys[i]
		for _, key := range bk.SatelliteKeys() {
			plan, ok := byKey[key]
			if !ok {
				plan = &SatellitePlan{Key: key, Owner: i, HashKeyColumn: bk.HashKeyColumn()}
				byKey[key] = plan
				seenAlias[key] = make(map[string]bool)
				plans = append(plans, plan)
			}
			for _, d := range bk.DescriptorsFor(key) {
				if seenAlias[key][d.Link.Alias] {
					continue
				}
				seenAlias[key][d.Link.Alias] = true
				plan.Columns = append(plan.Columns, d)
			}
		}
	}

	return plans
}

// satellitePlanIndex maps satellite keys to their plan.
func satellitePlanIndex(plans []*SatellitePlan) map[models.SatelliteKey]*SatellitePlan {
	idx := make(map[models.SatelliteKey]*SatellitePlan, len(plans))
	for _, p := range plans {
		idx[p.Key] = p
	}
	return idx
}

// CreateSchemaStatement returns the statement creating the target schema when missing.
func CreateSchemaStatement(dwSchema string) string {
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", sqlutil.QuoteIdentifier(dwSchema))
}

// GenerateDDL returns one CREATE TABLE statement per hub and per consolidated satellite.
// Each satellite follows the hub of the business key that first contributes to it.
// Statements use IF NOT EXISTS, so re-running a build leaves existing tables untouched;
// tables are never altered or dropped.
func GenerateDDL(schema *models.DVSchema) (string, error) {
	plans := PlanSatellites(schema)

	tables := make(map[string]models.SatelliteKey, len(plans))
	for _, plan := range plans {
		table := plan.Key.TableName()
		if other, ok := tables[table]; ok {
			return "", fmt.Errorf("%s.%s: %w: satellites %q and %q share a table",
				schema.DWSchema, table, apperrors.ErrInvalidIdentifier, other.GroupName(), plan.Key.GroupName())
		}
		tables[table] = plan.Key
	}

	var b strings.Builder
	for i := range schema.BusinessKeys {
		bk := &schema.BusinessKeys[i]

		stmt, err := hubDDL(schema.DWSchema, bk)
		if err != nil {
			return "", err
		}
		b.WriteString(stmt)

		for _, plan := range plans {
			if plan.Owner != i {
				continue
			}
			stmt, err := satelliteDDL(schema.DWSchema, plan)
			if err != nil {
				return "", err
			}
			b.WriteString(stmt)
		}
	}

	return b.String(), nil
}

func hubDDL(dwSchema string, bk *models.BusinessKey) (string, error) {
	names := []string{bk.HubTableName(), bk.HashKeyColumn()}
	for i := range bk.BusinessKeyParts {
		names = append(names, bk.BusinessKeyParts[i].TargetColumnName())
	}
	if err := checkLengths(dwSchema, bk.HubTableName(), names); err != nil {
		return "", err
	}

	columns := []string{
		columnDef(bk.HashKeyColumn(), hashColumnType),
		columnDef(models.LoadTimestampColumn, loadTimestampType),
		columnDef(models.RecordSourceColumn, recordSourceType),
	}
	for i := range bk.BusinessKeyParts {
		columns = append(columns, columnDef(bk.BusinessKeyParts[i].TargetColumnName(), businessKeyPartType))
	}
	return createTable(dwSchema, bk.HubTableName(), columns), nil
}

func satelliteDDL(dwSchema string, plan *SatellitePlan) (string, error) {
	table := plan.Key.TableName()
	if err := checkLengths(dwSchema, table, []string{table, plan.Key.HashDiffColumn()}); err != nil {
		return "", err
	}
	reserved := map[string]bool{
		plan.HashKeyColumn:         true,
		models.LoadTimestampColumn: true,
		models.RecordSourceColumn:  true,
		plan.Key.HashDiffColumn():  true,
	}

	columns := []string{
		columnDef(plan.HashKeyColumn, hashColumnType),
		columnDef(models.LoadTimestampColumn, loadTimestampType),
		columnDef(models.RecordSourceColumn, recordSourceType),
		columnDef(plan.Key.HashDiffColumn(), hashColumnType),
	}

	for _, d := range plan.Columns {
		if d.Link.Source == nil {
			return "", fmt.Errorf("%s.%s: %w: descriptor %q has no source column",
				dwSchema, table, apperrors.ErrMissingColumn, d.Link.Alias)
		}
		if reserved[d.Link.Alias] {
			return "", fmt.Errorf("%s.%s: %w: descriptor %q collides with a satellite housekeeping column",
				dwSchema, table, apperrors.ErrInvalidIdentifier, d.Link.Alias)
		}
		typeName := strings.TrimSpace(d.Link.Source.TypeName)
		if !sourceTypePattern.MatchString(typeName) {
			return "", fmt.Errorf("%s.%s: %w: descriptor %q has unusable type %q",
				dwSchema, table, apperrors.ErrInvalidIdentifier, d.Link.Alias, typeName)
		}
		columns = append(columns, columnDef(d.Link.Alias, typeName))
	}

	return createTable(dwSchema, table, columns), nil
}

// checkLengths rejects names the server would truncate.
func checkLengths(dwSchema, table string, names []string) error {
	for _, name := range names {
		if err := sqlutil.CheckIdentifierLength(name); err != nil {
			return fmt.Errorf("%s.%s: %w", dwSchema, table, err)
		}
	}
	return nil
}

func columnDef(name, typ string) string {
	return sqlutil.QuoteIdentifier(name) + " " + typ
}

func createTable(dwSchema, table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n);\n",
		sqlutil.QualifiedName(dwSchema, table),
		strings.Join(columns, ",\n    "))
}
