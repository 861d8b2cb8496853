package sql

import (
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
)

// MaxIdentifierLength is Postgres' NAMEDATALEN - 1. Longer names are silently truncated by the server.
const MaxIdentifierLength = 63

// InjectionCheckResult contains the result of an injection check on a proposed identifier.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string // The value that was checked
}

// CheckIdentifierForInjection uses libinjection to detect SQL injection patterns
// in a name that will become part of a table or column identifier.
// Classifier output is model-generated text, so names are vetted before use.
//
// Returns nil if no injection is detected.
func CheckIdentifierForInjection(value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Value:       value,
	}
}

// NormalizeIdentifier lower-cases s and replaces every character outside [a-z0-9_] with '_'.
// Leading and trailing underscores produced by the replacement are trimmed.
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// ValidateIdentifierName vets a proposed name and returns its normalized form.
// An empty result or an injection-looking input wraps apperrors.ErrInvalidIdentifier.
func ValidateIdentifierName(proposed string) (string, error) {
	if result := CheckIdentifierForInjection(proposed); result != nil {
		return "", fmt.Errorf("%w: %q looks like SQL injection (fingerprint %s)",
			apperrors.ErrInvalidIdentifier, proposed, result.Fingerprint)
	}
	name := NormalizeIdentifier(proposed)
	if name == "" {
		return "", fmt.Errorf("%w: %q normalizes to an empty name", apperrors.ErrInvalidIdentifier, proposed)
	}
	if err := CheckIdentifierLength(name); err != nil {
		return "", err
	}
	return name, nil
}

// CheckIdentifierLength rejects a generated identifier the server would truncate.
func CheckIdentifierLength(name string) error {
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%w: %q exceeds %d characters", apperrors.ErrInvalidIdentifier, name, MaxIdentifierLength)
	}
	return nil
}

// QuoteIdentifier quotes one identifier for Postgres.
func QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QualifiedName quotes schema.table for Postgres.
func QualifiedName(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// QuoteLiteral quotes a string literal for Postgres by doubling embedded single quotes.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
