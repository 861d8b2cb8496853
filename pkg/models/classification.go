package models

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
)

// ColumnRole is the Data Vault role a classifier assigned to a source column.
type ColumnRole string

const (
	ColumnRoleBusinessKeyPart     ColumnRole = "Business Key Part"
	ColumnRoleDescriptor          ColumnRole = "Descriptor"
	ColumnRoleDescriptorSensitive ColumnRole = "Descriptor - Sensitive"
)

// BusinessKeyNameNA marks a classification that did not propose a business key name.
const BusinessKeyNameNA = "NA"

// ParseColumnRole converts a classifier role string into a ColumnRole.
// Unknown strings are rejected; they indicate an unparseable classification.
func ParseColumnRole(s string) (ColumnRole, error) {
	switch ColumnRole(strings.TrimSpace(s)) {
	case ColumnRoleBusinessKeyPart:
		return ColumnRoleBusinessKeyPart, nil
	case ColumnRoleDescriptor:
		return ColumnRoleDescriptor, nil
	case ColumnRoleDescriptorSensitive:
		return ColumnRoleDescriptorSensitive, nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownColumnRole, s)
}

// IsDescriptor returns true for both plain and sensitive descriptors.
func (r ColumnRole) IsDescriptor() bool {
	return r == ColumnRoleDescriptor || r == ColumnRoleDescriptorSensitive
}

// UnmarshalText validates the role when decoding a classification feed.
func (r *ColumnRole) UnmarshalText(text []byte) error {
	parsed, err := ParseColumnRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ColumnClassification is one classified source column from the classification feed.
type ColumnClassification struct {
	SchemaName      string     `json:"schema_name"`
	TableName       string     `json:"table_name"`
	TableOID        uint32     `json:"table_oid"`
	ColumnName      string     `json:"column_name"`
	ColumnTypeName  string     `json:"column_type_name"`
	OrdinalPosition int16      `json:"column_ordinal_position"`
	SystemID        int64      `json:"system_id"`
	Role            ColumnRole `json:"column_category"`
	BusinessKeyName string     `json:"business_key_name"`
}

// HasBusinessKeyName reports whether the record proposes a usable business key name.
func (c *ColumnClassification) HasBusinessKeyName() bool {
	name := strings.TrimSpace(c.BusinessKeyName)
	return name != "" && !strings.EqualFold(name, BusinessKeyNameNA)
}

// ColumnData returns the source column reference described by this classification.
func (c *ColumnClassification) ColumnData() ColumnData {
	return ColumnData{
		SystemID:        c.SystemID,
		SchemaName:      c.SchemaName,
		TableOID:        c.TableOID,
		TableName:       c.TableName,
		ColumnName:      c.ColumnName,
		OrdinalPosition: c.OrdinalPosition,
		TypeName:        c.ColumnTypeName,
	}
}

// ColumnStatusLabel is the deployment readiness of a classified column.
type ColumnStatusLabel string

const (
	ColumnStatusQueued            ColumnStatusLabel = "Queued for Processing"
	ColumnStatusReadyToDeploy     ColumnStatusLabel = "Ready to Deploy"
	ColumnStatusRequiresAttention ColumnStatusLabel = "Requires Attention"
)

// ColumnStatus summarizes the latest classifier response for a source column.
type ColumnStatus struct {
	SchemaName      string            `json:"schema"`
	TableName       string            `json:"table"`
	ColumnName      string            `json:"column"`
	Status          ColumnStatusLabel `json:"status"`
	ConfidenceScore *float64          `json:"confidence_score,omitempty"`
	ModelName       *string           `json:"model_name,omitempty"`
	Category        *string           `json:"category,omitempty"`
	Reason          *string           `json:"reason,omitempty"`
}

// StatusForConfidence maps a classifier confidence score onto a status label.
func StatusForConfidence(score *float64, threshold float64) ColumnStatusLabel {
	switch {
	case score == nil:
		return ColumnStatusQueued
	case *score >= threshold:
		return ColumnStatusReadyToDeploy
	default:
		return ColumnStatusRequiresAttention
	}
}

// ConfidenceLevel renders a score the way the status report shows it ("85%" or "-").
func (s *ColumnStatus) ConfidenceLevel() string {
	if s.ConfidenceScore == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", int(*s.ConfidenceScore*100+0.5))
}
