package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength is the maximum length of a SQL batch written to logs.
	MaxQueryLogLength = 200
	// RedactedText replaces sensitive values.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeConnectionString removes credentials from a connection string before logging.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError strips credentials from database errors, which can echo the DSN.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeQuery collapses whitespace and truncates a generated SQL batch for logging.
// Batches are generated from catalog names only, so no value redaction is needed.
func SanitizeQuery(query string) string {
	collapsed := strings.TrimSpace(whitespacePattern.ReplaceAllString(query, " "))
	return TruncateString(collapsed, MaxQueryLogLength)
}

// TruncateString truncates s to maxLen bytes and appends an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
