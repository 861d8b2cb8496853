package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/models"
)

const customerRecords = `[
  {"schema_name": "public", "table_name": "customer", "table_oid": 16384, "column_name": "customer_id",
   "column_type_name": "integer", "column_ordinal_position": 1, "system_id": 7, "column_category": "Business Key Part",
   "business_key_name": "Customer"},
  {"schema_name": "public", "table_name": "customer", "table_oid": 16384, "column_name": "city",
   "column_type_name": "character varying(80)", "column_ordinal_position": 2, "system_id": 7, "column_category": "Descriptor",
   "business_key_name": "NA"}
]`

func TestDecode_BareArray(t *testing.T) {
	f, err := Decode(strings.NewReader(customerRecords))
	require.NoError(t, err)
	require.Len(t, f.Records, 2)

	assert.Equal(t, models.ColumnRoleBusinessKeyPart, f.Records[0].Role)
	assert.Equal(t, uint32(16384), f.Records[0].TableOID)
	assert.Equal(t, "character varying(80)", f.Records[1].ColumnTypeName)
	assert.Empty(t, f.BuildID)
}

func TestDecode_ObjectForm(t *testing.T) {
	input := `{"build_id": "b-1", "dw_schema": "vault", "records": ` + customerRecords + `}`

	f, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "b-1", f.BuildID)
	assert.Equal(t, "vault", f.DWSchema)
	assert.Len(t, f.Records, 2)
}

func TestDecode_UnwrapsModelChatter(t *testing.T) {
	input := "<think>The user wants the classifications.</think>\nHere you go:\n```json\n" + customerRecords + "\n```\nLet me know if [anything] else."

	f, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, f.Records, 2)
}

func TestDecode_UnknownRoleIsFatal(t *testing.T) {
	input := `[{"table_name": "customer", "column_name": "id", "column_category": "Primary Key"}]`

	_, err := Decode(strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownColumnRole)
}

func TestDecode_MissingRoleIsFatal(t *testing.T) {
	input := `[{"table_name": "customer", "column_name": "id"}]`

	_, err := Decode(strings.NewReader(input))
	assert.ErrorIs(t, err, apperrors.ErrUnknownColumnRole)
}

func TestDecode_LooselyTypedFields(t *testing.T) {
	input := `[{"schema_name": "public", "table_name": "customer", "table_oid": "16384", "column_name": "customer_id",
	  "column_type_name": "integer", "column_ordinal_position": "1", "system_id": 7.0,
	  "column_category": " Business Key Part ", "business_key_name": "Customer"},
	 {"schema_name": "public", "table_name": "customer", "table_oid": 16384, "column_name": "city",
	  "column_type_name": "text", "column_ordinal_position": 2, "system_id": null,
	  "column_category": "Descriptor", "business_key_name": null}]`

	f, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, f.Records, 2)

	assert.Equal(t, uint32(16384), f.Records[0].TableOID)
	assert.Equal(t, int16(1), f.Records[0].OrdinalPosition)
	assert.Equal(t, int64(7), f.Records[0].SystemID)
	assert.Equal(t, models.ColumnRoleBusinessKeyPart, f.Records[0].Role)

	assert.Empty(t, f.Records[1].BusinessKeyName)
	assert.Zero(t, f.Records[1].SystemID)
}

func TestDecode_BadNumericField(t *testing.T) {
	input := `[{"table_name": "customer", "column_name": "id", "table_oid": "oid-1", "column_category": "Descriptor"}]`

	_, err := Decode(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 0 (customer.id): table_oid")
}

func TestDecode_NoJSON(t *testing.T) {
	_, err := Decode(strings.NewReader("the classifier timed out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid JSON")
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(customerRecords), 0o644))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Records, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"a": 1}`, `{"a": 1}`},
		{"brackets in strings", `note: {"a": "[}"}`, `{"a": "[}"}`},
		{"escaped quote", `{"a": "say \"hi\" {"}`, `{"a": "say \"hi\" {"}`},
		{"prose brackets skipped", `see [note] then [{"a": 2}]`, `[{"a": 2}]`},
		{"mixed nesting", `x {"a": [1, {"b": [2]}]} y`, `{"a": [1, {"b": [2]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
