package telemetry

import "strings"

// Taxonomy labels assigned by the categorizer.
const (
	CategoryOperational = "operational"
	CategoryValidation  = "validation"
	CategoryTimeout     = "timeout"
	CategoryNetwork     = "network"
	CategoryProgramming = "programming"
	CategoryDatabase    = "database"
	CategoryUnknown     = "unknown"
)

type categoryRule struct {
	label string
	match func(errType, message string, statusCode int, operational bool) bool
}

// categoryRules are evaluated top to bottom; the first match wins, so rule
// order is load-bearing. The operational rule fires on any sub-500 status,
// which means a ValidationError carrying a 400 status is always categorized
// "operational" and never reaches the validation rule. Existing consumers
// depend on that precedence; do not reorder.
var categoryRules = []categoryRule{
	{CategoryOperational, func(_, _ string, status int, operational bool) bool {
		return operational || status < 500
	}},
	{CategoryValidation, func(errType, _ string, status int, _ bool) bool {
		return errType == "ValidationError" || status == 400
	}},
	{CategoryTimeout, func(errType, message string, _ int, _ bool) bool {
		return errType == "TimeoutError" || strings.Contains(strings.ToLower(message), "timeout")
	}},
	{CategoryNetwork, func(_, message string, _ int, _ bool) bool {
		// the ECONNREFUSED syscall code is matched verbatim
		return strings.Contains(strings.ToLower(message), "network") || strings.Contains(message, "ECONNREFUSED")
	}},
	{CategoryProgramming, func(errType, _ string, _ int, _ bool) bool {
		return errType == "TypeError" || errType == "ReferenceError"
	}},
	{CategoryDatabase, func(_, message string, _ int, _ bool) bool {
		lowered := strings.ToLower(message)
		return strings.Contains(lowered, "database") || strings.Contains(lowered, "query")
	}},
}

// categorize maps an error to its taxonomy label. It is a pure function of
// the four inputs.
func categorize(errType, message string, statusCode int, operational bool) string {
	for _, rule := range categoryRules {
		if rule.match(errType, message, statusCode, operational) {
			return rule.label
		}
	}
	return CategoryUnknown
}
