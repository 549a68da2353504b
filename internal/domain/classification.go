package domain

import "strings"

// Route selects which sandbox stages a question requires.
type Route string

const (
	RouteNone          Route = "NONE"
	RouteQueryOnly     Route = "QUERY_ONLY"
	RouteCodeOnly      Route = "CODE_ONLY"
	RouteQueryThenCode Route = "QUERY_THEN_CODE"
)

// ParseRoute normalizes a classifier-emitted route string. Unknown values
// fall back to RouteNone so a confused classifier can never break a request.
func ParseRoute(value string) Route {
	switch Route(strings.ToUpper(strings.TrimSpace(value))) {
	case RouteQueryOnly:
		return RouteQueryOnly
	case RouteCodeOnly:
		return RouteCodeOnly
	case RouteQueryThenCode:
		return RouteQueryThenCode
	default:
		return RouteNone
	}
}

// NeedsQuery reports whether the route includes a query stage.
func (r Route) NeedsQuery() bool {
	return r == RouteQueryOnly || r == RouteQueryThenCode
}

// NeedsCode reports whether the route includes a code stage.
func (r Route) NeedsCode() bool {
	return r == RouteCodeOnly || r == RouteQueryThenCode
}

// ClassificationResult is produced once per request and immutable afterward.
type ClassificationResult struct {
	Route         Route    `json:"route"`
	Reasoning     string   `json:"reasoning,omitempty"`
	ColumnsNeeded []string `json:"columns_needed,omitempty"`
}
