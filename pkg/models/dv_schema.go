package models

import (
	"time"

	"github.com/google/uuid"
)

// Data Vault table and column naming.
const (
	HubTablePrefix       = "hub_"
	SatelliteTablePrefix = "sat_"
	SensitiveSuffix      = "_sensitive"
	HashKeySuffix        = "_hk"
	HashDiffSuffix       = "_hd"
	BusinessKeySuffix    = "_bk"

	LoadTimestampColumn = "load_ts"
	RecordSourceColumn  = "record_source"
)

// ColumnData references one physical column, either in a source table or in a
// generated hub/satellite table.
type ColumnData struct {
	ID              uuid.UUID `json:"ID"`
	SystemID        int64     `json:"System ID"`
	SchemaName      string    `json:"Schema Name"`
	TableOID        uint32    `json:"Table OID"`
	TableName       string    `json:"Table Name"`
	ColumnName      string    `json:"Column Name"`
	OrdinalPosition int16     `json:"Column Ordinal Position"`
	TypeName        string    `json:"Column Type"`
}

// DescriptorLink pairs a descriptor's source column with its satellite column.
// Target is nil until the satellite column has been resolved from the catalog.
type DescriptorLink struct {
	ID     uuid.UUID   `json:"ID"`
	Alias  string      `json:"Alias"`
	Source *ColumnData `json:"Source Column Data"`
	Target *ColumnData `json:"Target Column Data"`
}

// Descriptor is a descriptive attribute orbiting a business key.
type Descriptor struct {
	ID          uuid.UUID      `json:"ID"`
	Link        DescriptorLink `json:"Descriptor Link"`
	Orbit       string         `json:"Orbit"`
	IsSensitive bool           `json:"Is Sensitive"`
}

// SatelliteKey returns the satellite this descriptor is stored in.
func (d *Descriptor) SatelliteKey() SatelliteKey {
	return SatelliteKey{Orbit: d.Orbit, IsSensitive: d.IsSensitive}
}

// BusinessKeyPartLink backs one business key attribute with its source column(s).
type BusinessKeyPartLink struct {
	ID            uuid.UUID    `json:"ID"`
	Alias         string       `json:"Alias"`
	SourceColumns []ColumnData `json:"Source Column Data"`
	Target        *ColumnData  `json:"Target Column Data"`
}

// TargetColumnName is the hub column holding this part: <alias>_bk.
func (l *BusinessKeyPartLink) TargetColumnName() string {
	return l.Alias + BusinessKeySuffix
}

// BusinessKey is one hub with its part links and orbiting descriptors.
type BusinessKey struct {
	ID               uuid.UUID             `json:"ID"`
	Name             string                `json:"Name"`
	BusinessKeyParts []BusinessKeyPartLink `json:"Business Key Part Links"`
	Descriptors      []Descriptor          `json:"Descriptors"`
}

// HubTableName returns hub_<name>.
func (bk *BusinessKey) HubTableName() string {
	return HubTablePrefix + bk.Name
}

// HashKeyColumn returns hub_<name>_hk.
func (bk *BusinessKey) HashKeyColumn() string {
	return bk.HubTableName() + HashKeySuffix
}

// SourceTable returns the table the business key parts are read from.
// Returns nil when the business key has no source column.
func (bk *BusinessKey) SourceTable() *ColumnData {
	for i := range bk.BusinessKeyParts {
		if len(bk.BusinessKeyParts[i].SourceColumns) > 0 {
			return &bk.BusinessKeyParts[i].SourceColumns[0]
		}
	}
	return nil
}

// SatelliteKeys returns the distinct satellites of this business key in the
// order their first descriptor appears.
func (bk *BusinessKey) SatelliteKeys() []SatelliteKey {
	var keys []SatelliteKey
	seen := make(map[SatelliteKey]bool)
	for i := range bk.Descriptors {
		key := bk.Descriptors[i].SatelliteKey()
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// DescriptorsFor returns the descriptors stored in the given satellite, in order.
func (bk *BusinessKey) DescriptorsFor(key SatelliteKey) []*Descriptor {
	var out []*Descriptor
	for i := range bk.Descriptors {
		if bk.Descriptors[i].SatelliteKey() == key {
			out = append(out, &bk.Descriptors[i])
		}
	}
	return out
}

// DVSchema is one versioned Data Vault model produced by a build.
type DVSchema struct {
	ID           uuid.UUID     `json:"ID"`
	DWSchema     string        `json:"DW Schema"`
	CreatedAt    time.Time     `json:"Create Date"`
	ModifiedAt   time.Time     `json:"Modified Date"`
	BusinessKeys []BusinessKey `json:"Business Keys"`
}

// SatelliteKey identifies a physical satellite: descriptors sharing an orbit and
// sensitivity are stored together regardless of business key.
type SatelliteKey struct {
	Orbit       string
	IsSensitive bool
}

// GroupName returns <orbit> or <orbit>_sensitive.
func (k SatelliteKey) GroupName() string {
	if k.IsSensitive {
		return k.Orbit + SensitiveSuffix
	}
	return k.Orbit
}

// TableName returns sat_<orbit>[_sensitive].
func (k SatelliteKey) TableName() string {
	return SatelliteTablePrefix + k.GroupName()
}

// HashDiffColumn returns sat_<orbit>[_sensitive]_hd.
func (k SatelliteKey) HashDiffColumn() string {
	return k.TableName() + HashDiffSuffix
}

// DVBuild summarizes a persisted schema version.
type DVBuild struct {
	BuildID      string    `json:"build_id"`
	SchemaID     uuid.UUID `json:"schema_id"`
	DWSchema     string    `json:"dw_schema"`
	BusinessKeys int       `json:"business_keys"`
	InsertedAt   time.Time `json:"inserted_at"`
}
