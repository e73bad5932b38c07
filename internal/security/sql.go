// Package security provides query-safety helpers for civicdesk
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidIdentifierRegex matches plain column identifiers, optionally table qualified
var ValidIdentifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// likeEscape is the escape character used in LIKE clauses.
// "!" needs no quoting in MySQL, PostgreSQL or SQLite string literals.
const likeEscape = "!"

// ValidateIdentifier checks if a string is a valid SQL identifier
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier too long (max 63 characters)")
	}
	if !ValidIdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier: must contain only lowercase letters, numbers, and underscores, starting with a letter or underscore")
	}
	return nil
}

// EscapeLikePattern escapes special characters in LIKE patterns
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, likeEscape, likeEscape+likeEscape)
	pattern = strings.ReplaceAll(pattern, `%`, likeEscape+`%`)
	pattern = strings.ReplaceAll(pattern, `_`, likeEscape+`_`)
	return pattern
}

// ContainsPattern wraps an escaped search term for a substring match
func ContainsPattern(term string) string {
	return "%" + EscapeLikePattern(term) + "%"
}

// BuildMultiSearchCondition builds a gorm condition matching term against any column.
// Matching is case-insensitive on every supported driver. Invalid column names are skipped.
func BuildMultiSearchCondition(columns []string, term string) (string, []interface{}) {
	term = strings.TrimSpace(term)
	if len(columns) == 0 || term == "" {
		return "", nil
	}

	param := ContainsPattern(strings.ToLower(term))
	conditions := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		if err := ValidateIdentifier(col); err != nil {
			continue
		}
		conditions = append(conditions, fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '%s'", col, likeEscape))
		args = append(args, param)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return "(" + strings.Join(conditions, " OR ") + ")", args
}

// SortWhitelist maps client-facing sort fields to columns
type SortWhitelist map[string]string

// OrderClause returns "column ASC|DESC" for a whitelisted field, or fallback
func (w SortWhitelist) OrderClause(field, direction, fallback string) string {
	col, ok := w[field]
	if !ok || ValidateIdentifier(col) != nil {
		return fallback
	}
	if strings.EqualFold(direction, "asc") {
		return col + " ASC"
	}
	return col + " DESC"
}
