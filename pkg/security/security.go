// Package security holds the pure SQL-safety validators used by every
// component that touches identifiers or raw queries.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxIdentifierLength bounds table and column names.
	MaxIdentifierLength = 128

	// MaxQueryLength bounds raw SELECT statements.
	MaxQueryLength = 10000

	// MaxLimit caps row limits on preview and search endpoints.
	MaxLimit = 1000
)

// ValidationError is the single error kind surfaced by every validator.
// The HTTP layer maps it to 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedKeywords are SQL keywords that can never be used raw as an
// identifier.
var reservedKeywords = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {},
	"create": {}, "alter": {}, "table": {}, "index": {}, "view": {},
	"from": {}, "where": {}, "join": {}, "union": {}, "group": {},
	"order": {}, "by": {}, "having": {}, "limit": {}, "offset": {},
	"and": {}, "or": {}, "not": {}, "null": {}, "true": {}, "false": {},
	"as": {}, "on": {}, "in": {}, "is": {}, "like": {}, "between": {},
	"exists": {}, "case": {}, "when": {}, "then": {}, "else": {},
	"end": {}, "distinct": {}, "all": {}, "into": {}, "values": {},
	"set": {}, "primary": {}, "key": {}, "foreign": {}, "references": {},
	"grant": {}, "revoke": {}, "commit": {}, "rollback": {}, "transaction": {},
}

// forbiddenQueryKeywords may never appear in a validated query, even
// quoted inside the statement text.
var forbiddenQueryKeywords = []string{
	"insert", "update", "delete", "drop", "create", "alter", "truncate",
	"grant", "revoke", "attach", "detach", "pragma", "vacuum", "reindex",
	"replace", "exec", "execute",
}

// IsReservedKeyword reports whether name collides with a reserved SQL
// keyword, case-insensitively.
func IsReservedKeyword(name string) bool {
	_, ok := reservedKeywords[strings.ToLower(name)]
	return ok
}

// ValidateIdentifier checks a table or column name against the
// identifier rules. Returns a ValidationError describing the first
// violation.
func ValidateIdentifier(name string) error {
	if name == "" {
		return NewValidationError("identifier must not be empty")
	}
	if len(name) > MaxIdentifierLength {
		return NewValidationError("identifier exceeds %d characters", MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return NewValidationError("identifier %q contains invalid characters", name)
	}
	if IsReservedKeyword(name) {
		return NewValidationError("identifier %q is a reserved SQL keyword", name)
	}
	return nil
}

// SanitizeIdentifier rewrites an arbitrary string into a valid
// identifier. It never fails: invalid characters become underscores,
// digit-led names gain a "t_" prefix, keyword collisions gain a
// "_table" suffix, and an empty result becomes "table_data".
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) && r < 128 {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "table_data"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	if IsReservedKeyword(out) {
		out += "_table"
	}
	if len(out) > MaxIdentifierLength {
		out = out[:MaxIdentifierLength]
	}
	return out
}

// QuoteIdentifier wraps an identifier in double quotes, doubling any
// embedded quote, for safe interpolation into SQL text.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ValidateQuery checks that sql is a single, comment-free, read-only
// SELECT statement.
func ValidateQuery(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return NewValidationError("query must not be empty")
	}
	if len(trimmed) > MaxQueryLength {
		return NewValidationError("query exceeds %d characters", MaxQueryLength)
	}

	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") {
		return NewValidationError("only SELECT statements are allowed")
	}

	if strings.Contains(trimmed, "--") {
		return NewValidationError("query must not contain SQL comments")
	}
	if strings.Contains(trimmed, "/*") || strings.Contains(trimmed, "*/") {
		return NewValidationError("query must not contain SQL comments")
	}

	// A trailing semicolon is tolerated; any other semicolon means a
	// second statement.
	body := strings.TrimSuffix(trimmed, ";")
	if strings.Contains(body, ";") {
		return NewValidationError("query must be a single statement")
	}

	for _, kw := range forbiddenQueryKeywords {
		if containsWord(lower, kw) {
			return NewValidationError("query contains forbidden keyword %q", strings.ToUpper(kw))
		}
	}

	return nil
}

// ValidateLimit checks a row limit and clamps it to MaxLimit.
func ValidateLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, NewValidationError("limit must be non-negative, got %d", limit)
	}
	if limit > MaxLimit {
		return MaxLimit, nil
	}
	return limit, nil
}

// containsWord reports whether word occurs in s bounded by
// non-identifier characters.
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordChar(s[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(s) || !isWordChar(s[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
