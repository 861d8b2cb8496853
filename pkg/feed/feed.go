// Package feed reads classification feeds exported to files, for builds that
// run without the auto_dw bookkeeping tables.
package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
	"github.com/ekaya-inc/auto-dw/pkg/jsonutil"
	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// File is the object form of a feed. A bare JSON array of records is accepted too.
type File struct {
	BuildID  string                        `json:"build_id,omitempty"`
	DWSchema string                        `json:"dw_schema,omitempty"`
	Records  []models.ColumnClassification `json:"records"`
}

// rawFile and rawRecord mirror File with the loosely typed fields model output
// tends to get wrong: numbers quoted as strings, names returned as null or numbers.
type rawFile struct {
	BuildID  string      `json:"build_id"`
	DWSchema string      `json:"dw_schema"`
	Records  []rawRecord `json:"records"`
}

type rawRecord struct {
	SchemaName      string          `json:"schema_name"`
	TableName       string          `json:"table_name"`
	TableOID        json.RawMessage `json:"table_oid"`
	ColumnName      string          `json:"column_name"`
	ColumnTypeName  string          `json:"column_type_name"`
	OrdinalPosition json.RawMessage `json:"column_ordinal_position"`
	SystemID        json.RawMessage `json:"system_id"`
	Role            string          `json:"column_category"`
	BusinessKeyName json.RawMessage `json:"business_key_name"`
}

func (r *rawRecord) classification() (models.ColumnClassification, error) {
	c := models.ColumnClassification{
		SchemaName:      r.SchemaName,
		TableName:       r.TableName,
		ColumnName:      r.ColumnName,
		ColumnTypeName:  r.ColumnTypeName,
		BusinessKeyName: jsonutil.FlexibleStringValue(r.BusinessKeyName),
	}

	if strings.TrimSpace(r.Role) == "" {
		return c, fmt.Errorf("missing column_category: %w", apperrors.ErrUnknownColumnRole)
	}
	role, err := models.ParseColumnRole(r.Role)
	if err != nil {
		return c, err
	}
	c.Role = role

	oid, err := jsonutil.FlexibleIntValue(r.TableOID)
	if err != nil || oid < 0 || oid > math.MaxUint32 {
		return c, fmt.Errorf("table_oid: invalid value %s", r.TableOID)
	}
	c.TableOID = uint32(oid)

	ordinal, err := jsonutil.FlexibleIntValue(r.OrdinalPosition)
	if err != nil || ordinal < 0 || ordinal > math.MaxInt16 {
		return c, fmt.Errorf("column_ordinal_position: invalid value %s", r.OrdinalPosition)
	}
	c.OrdinalPosition = int16(ordinal)

	if c.SystemID, err = jsonutil.FlexibleIntValue(r.SystemID); err != nil {
		return c, fmt.Errorf("system_id: %w", err)
	}

	return c, nil
}

// ReadFile opens path and decodes it with Decode.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	feed, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return feed, nil
}

// Decode reads a classification feed. Role strings are parsed here, so an
// unknown role fails the whole feed rather than surfacing later in synthesis.
func Decode(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	payload, err := extractJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	var in rawFile
	if strings.HasPrefix(payload, "[") {
		err = json.Unmarshal([]byte(payload), &in.Records)
	} else {
		err = json.Unmarshal([]byte(payload), &in)
	}
	if err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	out := File{
		BuildID:  in.BuildID,
		DWSchema: in.DWSchema,
		Records:  make([]models.ColumnClassification, 0, len(in.Records)),
	}
	for i := range in.Records {
		rec, err := in.Records[i].classification()
		if err != nil {
			return nil, fmt.Errorf("decode feed: record %d (%s.%s): %w",
				i, in.Records[i].TableName, in.Records[i].ColumnName, err)
		}
		out.Records = append(out.Records, rec)
	}

	return &out, nil
}
