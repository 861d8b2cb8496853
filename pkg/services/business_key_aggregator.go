package services

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/auto-dw/pkg/models"
)

// tableKey identifies one physical source table in a classification feed.
// Names are part of the key so feeds exported without table OIDs still group correctly.
type tableKey struct {
	oid    uint32
	schema string
	table  string
}

// AggregateBusinessKeys groups classified columns by source table and turns each
// group into one business key. Groups keep the order in which their table first
// appears in the feed; columns inside a group are ordered by ordinal position.
//
// The business key name is the last non-"NA" name proposed in the group, lower-cased,
// or empty when no column proposes one. Callers must guard against empty and
// duplicate names (see SchemaAssembler).
func AggregateBusinessKeys(records []models.ColumnClassification) []models.BusinessKey {
	var order []tableKey
	groups := make(map[tableKey][]models.ColumnClassification)

	for _, rec := range records {
		key := tableKey{oid: rec.TableOID, schema: rec.SchemaName, table: rec.TableName}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	keys := make([]models.BusinessKey, 0, len(order))
	for _, tk := range order {
		keys = append(keys, aggregateTable(groups[tk]))
	}
	return keys
}

func aggregateTable(group []models.ColumnClassification) models.BusinessKey {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].OrdinalPosition < group[j].OrdinalPosition
	})

	bk := models.BusinessKey{
		ID:               uuid.New(),
		BusinessKeyParts: []models.BusinessKeyPartLink{},
		Descriptors:      []models.Descriptor{},
	}

	for i := range group {
		rec := &group[i]

		if rec.HasBusinessKeyName() {
			bk.Name = strings.ToLower(strings.TrimSpace(rec.BusinessKeyName))
		}

		source := rec.ColumnData()
		source.ID = uuid.New()

		switch rec.Role {
		case models.ColumnRoleBusinessKeyPart:
			bk.BusinessKeyParts = append(bk.BusinessKeyParts, models.BusinessKeyPartLink{
				ID:            uuid.New(),
				Alias:         rec.ColumnName,
				SourceColumns: []models.ColumnData{source},
			})
		case models.ColumnRoleDescriptor, models.ColumnRoleDescriptorSensitive:
			bk.Descriptors = append(bk.Descriptors, models.Descriptor{
				ID: uuid.New(),
				Link: models.DescriptorLink{
					ID:     uuid.New(),
					Alias:  rec.ColumnName,
					Source: &source,
				},
				Orbit:       rec.TableName,
				IsSensitive: rec.Role == models.ColumnRoleDescriptorSensitive,
			})
		}
	}

	return bk
}
