// Package audit provides security audit logging for SIEM consumption.
// Business key names come from a language model and end up as table and column
// names, so rejected names are logged as structured security events.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a proposed identifier.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventIdentifierRejected is logged when a proposed identifier is unusable for other reasons.
	EventIdentifierRejected SecurityEventType = "identifier_rejected"
)

// SecurityEvent represents an auditable security event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	DWSchema  string            `json:"dw_schema,omitempty"`
	Source    string            `json:"source"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // warning, critical
}

// IdentifierDetails describes a rejected identifier proposal.
type IdentifierDetails struct {
	Proposed    string `json:"proposed"`
	Fingerprint string `json:"fingerprint,omitempty"` // libinjection fingerprint
	Reason      string `json:"reason,omitempty"`
}

// SecurityAuditor logs security events under the "security_audit" logger name.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor creates a new security auditor.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{
		logger: logger.Named("security_audit"),
		now:    time.Now,
	}
}

// LogInjectionAttempt records an identifier flagged as SQL injection. Logged at
// ERROR with "critical" severity.
//
// source is the schema.table the proposal was made for.
func (a *SecurityAuditor) LogInjectionAttempt(dwSchema, source string, details IdentifierDetails) {
	event := a.event(EventSQLInjectionAttempt, dwSchema, source, details, "critical")

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", event),
		zap.String("source", source),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogIdentifierRejected records an identifier rejected for length or content.
// Logged at WARN; these are normally classifier mistakes, not attacks.
func (a *SecurityAuditor) LogIdentifierRejected(dwSchema, source string, details IdentifierDetails) {
	event := a.event(EventIdentifierRejected, dwSchema, source, details, "warning")

	a.logger.Warn("Identifier rejected",
		zap.String("event_json", event),
		zap.String("source", source),
		zap.String("reason", details.Reason),
		zap.String("severity", "warning"),
	)
}

func (a *SecurityAuditor) event(eventType SecurityEventType, dwSchema, source string, details IdentifierDetails, severity string) string {
	// Marshaling these known types cannot fail.
	eventJSON, _ := json.Marshal(SecurityEvent{
		Timestamp: a.now().UTC(),
		EventType: eventType,
		DWSchema:  dwSchema,
		Source:    source,
		Details:   details,
		Severity:  severity,
	})
	return string(eventJSON)
}
