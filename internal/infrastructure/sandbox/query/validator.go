// Package query validates and executes generated declarative queries
// against a bounded dataset table.
package query

import (
	"regexp"
	"strings"

	"github.com/insightx/insightx/internal/domain"
)

// PlaceholderTable is the single logical table reference generated queries
// may use. Validation rewrites it to the session's concrete table.
const PlaceholderTable = "dataset"

// Statement kinds and capabilities that must never reach the engine.
var deniedKeywords = []string{
	"CREATE", "ALTER", "DROP", "INSERT", "UPDATE", "DELETE", "TRUNCATE",
	"ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX",
	"COPY", "EXPORT", "INSTALL", "LOAD", "CALL",
}

// Validator is a syntactic allow-list over generated query text.
type Validator struct {
	denied  []*regexp.Regexp
	tables  *regexp.Regexp
	ctes    *regexp.Regexp
	rewrite *regexp.Regexp
}

// NewValidator compiles the rule set once.
func NewValidator() *Validator {
	denied := make([]*regexp.Regexp, 0, len(deniedKeywords))
	for _, kw := range deniedKeywords {
		denied = append(denied, regexp.MustCompile(`\b`+kw+`\b`))
	}
	return &Validator{
		denied:  denied,
		tables:  regexp.MustCompile(`(?i)\b(?:from|join)\s+([A-Za-z_"][A-Za-z0-9_."]*)`),
		ctes:    regexp.MustCompile(`(?i)\b([A-Za-z_][A-Za-z0-9_]*)\s+as\s*\(`),
		rewrite: regexp.MustCompile(`(?i)\b(from|join)(\s+)` + PlaceholderTable + `\b`),
	}
}

func rejected(format string, args ...interface{}) error {
	return domain.NewError(domain.ErrRejectedQuery, format, args...)
}

// Validate rejects anything but a single read-only selection statement that
// references only the logical placeholder table.
func (v *Validator) Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	trimmed = strings.TrimSuffix(trimmed, ";")
	if trimmed == "" {
		return rejected("empty query")
	}
	if strings.Contains(trimmed, ";") {
		return rejected("multiple statements are not allowed")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return rejected("only SELECT statements are allowed")
	}
	for i, re := range v.denied {
		if re.MatchString(upper) {
			return rejected("keyword %s is not allowed", deniedKeywords[i])
		}
	}

	allowed := map[string]bool{PlaceholderTable: true}
	for _, match := range v.ctes.FindAllStringSubmatch(trimmed, -1) {
		allowed[strings.ToLower(match[1])] = true
	}
	for _, match := range v.tables.FindAllStringSubmatch(trimmed, -1) {
		name := strings.ToLower(strings.Trim(match[1], `"`))
		if !allowed[name] {
			return rejected("reference to table %q; only %q is available", name, PlaceholderTable)
		}
	}
	return nil
}

// Rewrite substitutes the placeholder with the concrete table handle. Call
// only after Validate has accepted the query.
func (v *Validator) Rewrite(query string, handle domain.DatasetHandle) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(query), ";")
	return v.rewrite.ReplaceAllString(trimmed, `$1$2"`+handle.Table+`"`)
}
