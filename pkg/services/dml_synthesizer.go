package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/models"
	sqlutil "github.com/ekaya-inc/auto-dw/pkg/sql"
)

// Literals written by the load SQL.
const (
	ghostUnknownValue    = "-1"
	ghostNotApplicable   = "-2"
	ghostLoadTimestamp   = "'0001-01-01'::TIMESTAMP WITHOUT TIME ZONE"
	ghostRecordSource    = "SYSTEM"
	currentLoadTimestamp = "(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')::TIMESTAMP(6)"
	stagingAlias         = "stg"
)

// Component names reported by SynthesisError.
const (
	ComponentHub       = "hub"
	ComponentSatellite = "satellite"
)

// SynthesisError reports a hub or satellite for which no load SQL was generated.
type SynthesisError struct {
	Component   string
	Table       string
	BusinessKey string
	Err         error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s %s (business key %s): %v", e.Component, e.Table, e.BusinessKey, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// DMLStatement is the load SQL for one hub or satellite.
type DMLStatement struct {
	Component   string `json:"component"`
	Table       string `json:"table"`
	BusinessKey string `json:"business_key"`
	SQL         string `json:"sql"`
}

// DMLResult holds the statements that could be generated and the components that could not.
type DMLResult struct {
	Statements []DMLStatement
	Errors     []*SynthesisError
}

// SQL concatenates all generated statements into one batch.
func (r *DMLResult) SQL() string {
	var b strings.Builder
	for _, s := range r.Statements {
		b.WriteString(s.SQL)
	}
	return b.String()
}

// Err joins the synthesis errors, or returns nil when every component was generated.
func (r *DMLResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// GenerateDML returns the load SQL for a target-resolved schema. Per business key it emits
// the hub ghost records, the incremental hub load, then one incremental load per satellite
// the business key contributes to.
//
// Hash input order follows part-link and descriptor order, which is fixed when the schema
// is assembled. Reordering them changes every computed hash.
func GenerateDML(schema *models.DVSchema) *DMLResult {
	result := &DMLResult{}
	plans := satellitePlanIndex(PlanSatellites(schema))

	for i := range schema.BusinessKeys {
		bk := &schema.BusinessKeys[i]
		hubTable := sqlutil.QualifiedName(schema.DWSchema, bk.HubTableName())

		source, err := hubSource(bk)
		if err != nil {
			result.Errors = append(result.Errors, &SynthesisError{
				Component: ComponentHub, Table: bk.HubTableName(), BusinessKey: bk.Name, Err: err,
			})
			// Satellites of this business key cannot compute the hub hash either.
			for _, key := range bk.SatelliteKeys() {
				result.Errors = append(result.Errors, &SynthesisError{
					Component: ComponentSatellite, Table: key.TableName(), BusinessKey: bk.Name,
					Err: fmt.Errorf("hub %s unavailable: %w", bk.HubTableName(), apperrors.ErrMissingColumn),
				})
			}
			continue
		}

		result.Statements = append(result.Statements,
			DMLStatement{Component: ComponentHub, Table: bk.HubTableName(), BusinessKey: bk.Name,
				SQL: hubGhostDML(hubTable, bk)},
			DMLStatement{Component: ComponentHub, Table: bk.HubTableName(), BusinessKey: bk.Name,
				SQL: hubIncrementalDML(hubTable, bk, source)},
		)

		for _, key := range bk.SatelliteKeys() {
			plan := plans[key]
			stmt, err := satelliteIncrementalDML(schema.DWSchema, bk, source, plan)
			if err != nil {
				result.Errors = append(result.Errors, &SynthesisError{
					Component: ComponentSatellite, Table: key.TableName(), BusinessKey: bk.Name, Err: err,
				})
				continue
			}
			result.Statements = append(result.Statements, DMLStatement{
				Component: ComponentSatellite, Table: key.TableName(), BusinessKey: bk.Name, SQL: stmt,
			})
		}
	}

	return result
}

// hubSource checks every part link is complete and returns the source table they read from.
func hubSource(bk *models.BusinessKey) (*models.ColumnData, error) {
	if len(bk.BusinessKeyParts) == 0 {
		return nil, fmt.Errorf("%w: no business key parts", apperrors.ErrMissingColumn)
	}

	var source *models.ColumnData
	for i := range bk.BusinessKeyParts {
		part := &bk.BusinessKeyParts[i]
		if len(part.SourceColumns) == 0 {
			return nil, fmt.Errorf("%w: part %q has no source column", apperrors.ErrMissingColumn, part.Alias)
		}
		if part.Target == nil {
			return nil, fmt.Errorf("%w: part %q has no target column", apperrors.ErrMissingColumn, part.Alias)
		}
		for j := range part.SourceColumns {
			col := &part.SourceColumns[j]
			if source == nil {
				source = col
				continue
			}
			if !sameTable(source, col) {
				return nil, fmt.Errorf("%w: part %q reads %s.%s, expected %s.%s", apperrors.ErrMissingColumn,
					part.Alias, col.SchemaName, col.TableName, source.SchemaName, source.TableName)
			}
		}
	}
	return source, nil
}

func sameTable(a, b *models.ColumnData) bool {
	return a.SchemaName == b.SchemaName && a.TableName == b.TableName
}

// hashExpr is the hex SHA-256 of the comma-joined text values. NULLs are joined as empty
// strings rather than skipped, so (NULL, 'A') and ('A', NULL) hash differently.
func hashExpr(values []string) string {
	return fmt.Sprintf("ENCODE(public.DIGEST(ARRAY_TO_STRING(ARRAY[%s], ',', ''), 'sha256'), 'hex')",
		strings.Join(values, ", "))
}

func stagedText(column string) string {
	return stagingAlias + "." + sqlutil.QuoteIdentifier(column) + "::TEXT"
}

// hubKeyInputs lists every part-link source column in link order.
func hubKeyInputs(bk *models.BusinessKey) []string {
	var inputs []string
	for i := range bk.BusinessKeyParts {
		for _, col := range bk.BusinessKeyParts[i].SourceColumns {
			inputs = append(inputs, stagedText(col.ColumnName))
		}
	}
	return inputs
}

// partValueExpr is the value stored in a part's _bk column.
func partValueExpr(part *models.BusinessKeyPartLink) string {
	if len(part.SourceColumns) == 1 {
		return stagedText(part.SourceColumns[0].ColumnName)
	}
	values := make([]string, len(part.SourceColumns))
	for i, col := range part.SourceColumns {
		values[i] = stagedText(col.ColumnName)
	}
	return fmt.Sprintf("ARRAY_TO_STRING(ARRAY[%s], ',', '')", strings.Join(values, ", "))
}

func hubColumns(bk *models.BusinessKey) []string {
	cols := []string{
		sqlutil.QuoteIdentifier(bk.HashKeyColumn()),
		sqlutil.QuoteIdentifier(models.LoadTimestampColumn),
		sqlutil.QuoteIdentifier(models.RecordSourceColumn),
	}
	for i := range bk.BusinessKeyParts {
		cols = append(cols, sqlutil.QuoteIdentifier(bk.BusinessKeyParts[i].Target.ColumnName))
	}
	return cols
}

// hubGhostDML inserts the "-1" (unknown) and "-2" (not applicable) anchors into an empty hub.
// A hub holding any row is considered initialized, so the statement is a no-op on re-run.
func hubGhostDML(hubTable string, bk *models.BusinessKey) string {
	ghostRow := func(value string) string {
		literal := sqlutil.QuoteLiteral(value) + "::TEXT"
		var hashInputs []string
		for i := range bk.BusinessKeyParts {
			for range bk.BusinessKeyParts[i].SourceColumns {
				hashInputs = append(hashInputs, literal)
			}
		}
		exprs := []string{
			hashExpr(hashInputs),
			ghostLoadTimestamp,
			sqlutil.QuoteLiteral(ghostRecordSource),
		}
		for range bk.BusinessKeyParts {
			exprs = append(exprs, sqlutil.QuoteLiteral(value))
		}
		return fmt.Sprintf("SELECT\n    %s\nFROM initialized\nWHERE NOT initialized.is_initialized",
			strings.Join(exprs, ",\n    "))
	}

	return fmt.Sprintf(`WITH initialized AS (
    SELECT COUNT(*) > 0 AS is_initialized FROM %s
)
INSERT INTO %s (%s)
%s
UNION ALL
%s;
`,
		hubTable,
		hubTable, strings.Join(hubColumns(bk), ", "),
		ghostRow(ghostUnknownValue),
		ghostRow(ghostNotApplicable))
}

// hubIncrementalDML inserts one row per business key hash not yet present in the hub.
func hubIncrementalDML(hubTable string, bk *models.BusinessKey, source *models.ColumnData) string {
	hk := sqlutil.QuoteIdentifier(bk.HashKeyColumn())
	cols := hubColumns(bk)

	exprs := []string{
		hashExpr(hubKeyInputs(bk)) + " AS " + hk,
		currentLoadTimestamp + " AS " + cols[1],
		sqlutil.QuoteLiteral(source.SchemaName) + " AS " + cols[2],
	}
	for i := range bk.BusinessKeyParts {
		exprs = append(exprs, partValueExpr(&bk.BusinessKeyParts[i])+" AS "+cols[3+i])
	}

	return fmt.Sprintf(`WITH stg_data AS (
    SELECT
        %s
    FROM %s AS %s
),
new_stg_data AS (
    SELECT DISTINCT ON (stg_data.%s) stg_data.*
    FROM stg_data
    LEFT JOIN %s AS hub ON stg_data.%s = hub.%s
    WHERE hub.%s IS NULL
)
INSERT INTO %s (%s)
SELECT %s
FROM new_stg_data;
`,
		strings.Join(exprs, ",\n        "),
		sqlutil.QualifiedName(source.SchemaName, source.TableName), stagingAlias,
		hk,
		hubTable, hk, hk,
		hk,
		hubTable, strings.Join(cols, ", "),
		strings.Join(cols, ", "))
}

// satelliteIncrementalDML inserts one row per (hub hash, hash diff) pair not yet present in
// the satellite, so a changed descriptor value adds a row and history is kept.
// Only this business key's descriptors are hashed and loaded; consolidated columns
// contributed by other business keys stay NULL in its rows.
func satelliteIncrementalDML(dwSchema string, bk *models.BusinessKey, source *models.ColumnData, plan *SatellitePlan) (string, error) {
	descriptors := bk.DescriptorsFor(plan.Key)
	if len(descriptors) == 0 {
		return "", fmt.Errorf("%w: no descriptors", apperrors.ErrMissingColumn)
	}

	var diffInputs []string
	var valueExprs, valueCols []string
	for _, d := range descriptors {
		if d.Link.Source == nil {
			return "", fmt.Errorf("%w: descriptor %q has no source column", apperrors.ErrMissingColumn, d.Link.Alias)
		}
		if d.Link.Target == nil {
			return "", fmt.Errorf("%w: descriptor %q has no target column", apperrors.ErrMissingColumn, d.Link.Alias)
		}
		if !sameTable(source, d.Link.Source) {
			return "", fmt.Errorf("%w: descriptor %q reads %s.%s, hub reads %s.%s", apperrors.ErrMissingColumn,
				d.Link.Alias, d.Link.Source.SchemaName, d.Link.Source.TableName, source.SchemaName, source.TableName)
		}
		diffInputs = append(diffInputs, stagedText(d.Link.Source.ColumnName))
		target := sqlutil.QuoteIdentifier(d.Link.Target.ColumnName)
		valueExprs = append(valueExprs,
			stagingAlias+"."+sqlutil.QuoteIdentifier(d.Link.Source.ColumnName)+" AS "+target)
		valueCols = append(valueCols, target)
	}

	satTable := sqlutil.QualifiedName(dwSchema, plan.Key.TableName())
	hk := sqlutil.QuoteIdentifier(plan.HashKeyColumn)
	hd := sqlutil.QuoteIdentifier(plan.Key.HashDiffColumn())
	loadTS := sqlutil.QuoteIdentifier(models.LoadTimestampColumn)
	recordSource := sqlutil.QuoteIdentifier(models.RecordSourceColumn)

	exprs := []string{
		hashExpr(hubKeyInputs(bk)) + " AS " + hk,
		hashExpr(diffInputs) + " AS " + hd,
		currentLoadTimestamp + " AS " + loadTS,
		sqlutil.QuoteLiteral(source.SchemaName) + " AS " + recordSource,
	}
	exprs = append(exprs, valueExprs...)

	cols := append([]string{hk, loadTS, recordSource, hd}, valueCols...)

	return fmt.Sprintf(`WITH stg_data AS (
    SELECT
        %s
    FROM %s AS %s
),
new_stg_data AS (
    SELECT DISTINCT ON (stg_data.%s, stg_data.%s) stg_data.*
    FROM stg_data
    LEFT JOIN %s AS sat ON stg_data.%s = sat.%s AND stg_data.%s = sat.%s
    WHERE sat.%s IS NULL
)
INSERT INTO %s (%s)
SELECT %s
FROM new_stg_data;
`,
		strings.Join(exprs, ",\n        "),
		sqlutil.QualifiedName(source.SchemaName, source.TableName), stagingAlias,
		hk, hd,
		satTable, hk, hk, hd, hd,
		hk,
		satTable, strings.Join(cols, ", "),
		strings.Join(cols, ", ")), nil
}
