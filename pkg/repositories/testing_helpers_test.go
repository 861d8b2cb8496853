//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/ekaya-inc/auto-dw/pkg/testhelpers"
)

// sourceColumn is one seeded auto_dw.source_objects row plus its classifier response.
type sourceColumn struct {
	schema, table   string
	tableOID        uint32
	column, colType string
	ordinal         int16
	category        string
	bkName          string
	confidence      float64
}

// seedClassifications inserts source columns with one classifier response each and removes
// them (and any build calls referencing them) when the test ends.
func seedClassifications(t *testing.T, testDB *testhelpers.TestDB, cols []sourceColumn) []int64 {
	t.Helper()
	ctx := context.Background()

	var sourceIDs []int64
	for _, c := range cols {
		var sourceID int64
		err := testDB.DB.QueryRow(ctx, `
			INSERT INTO auto_dw.source_objects
				(schema_oid, schema_name, table_oid, table_name, column_ordinal_position, column_name, column_type_name)
			VALUES (2200, $1, $2, $3, $4, $5, $6)
			RETURNING pk_source_objects`,
			c.schema, c.tableOID, c.table, c.ordinal, c.column, c.colType).Scan(&sourceID)
		if err != nil {
			t.Fatalf("failed to seed source object %s.%s: %v", c.table, c.column, err)
		}
		sourceIDs = append(sourceIDs, sourceID)

		if c.category == "" {
			continue
		}
		addResponse(t, testDB, sourceID, c.category, c.bkName, c.confidence)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = testDB.DB.Exec(ctx, `
			DELETE FROM auto_dw.build_call WHERE fk_transformer_responses IN (
				SELECT pk_transformer_responses FROM auto_dw.transformer_responses WHERE fk_source_objects = ANY($1))`, sourceIDs)
		_, _ = testDB.DB.Exec(ctx, `DELETE FROM auto_dw.transformer_responses WHERE fk_source_objects = ANY($1)`, sourceIDs)
		_, _ = testDB.DB.Exec(ctx, `DELETE FROM auto_dw.source_objects WHERE pk_source_objects = ANY($1)`, sourceIDs)
	})

	return sourceIDs
}

func addResponse(t *testing.T, testDB *testhelpers.TestDB, sourceID int64, category, bkName string, confidence float64) {
	t.Helper()

	if bkName == "" {
		bkName = "NA"
	}
	_, err := testDB.DB.Exec(context.Background(), `
		INSERT INTO auto_dw.transformer_responses
			(fk_source_objects, model_name, category, business_key_name, confidence_score, reason)
		VALUES ($1, 'test-model', $2, $3, $4, 'seeded')`,
		sourceID, category, bkName, confidence)
	if err != nil {
		t.Fatalf("failed to seed response: %v", err)
	}
}
