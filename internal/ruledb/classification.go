package ruledb

import "strings"

// Classification is the review disposition a clause carries in the
// database.
type Classification string

const (
	// ClassOK means the clause is acceptable as written.
	ClassOK Classification = "ok"
	// ClassConditional means the clause is acceptable with conditions.
	ClassConditional Classification = "conditional"
	// ClassRemove means the clause should be struck.
	ClassRemove Classification = "remove"
	// ClassUnknown means the database carries no disposition for the
	// clause, or the status text was not recognized.
	ClassUnknown Classification = "unknown"
)

// ParseClassification converts a status cell to a Classification.
// Returns ClassUnknown if the text is not recognized.
func ParseClassification(s string) Classification {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok":
		return ClassOK
	case "c", "conditional":
		return ClassConditional
	case "r", "remove":
		return ClassRemove
	default:
		return ClassUnknown
	}
}

// Label returns the classification as written in generated artifacts.
func (c Classification) Label() string {
	switch c {
	case ClassOK:
		return "OK"
	case ClassConditional:
		return "Conditional"
	case ClassRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}
