// Package ruledb loads clause databases from spreadsheet sources and
// merges them into a single lookup table keyed by canonical clause
// number.
package ruledb

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyDatabase is returned when merging produces no clauses at all.
var ErrEmptyDatabase = errors.New("clause database is empty")

// Clause is one row of a clause database.
type Clause struct {
	Key            string         // canonical lookup key, see Canonicalize
	Code           string         // clause number as written in the source
	Title          string         // title or description column
	RawStatus      string         // status cell verbatim, shown in the matrix
	Classification Classification // parsed from RawStatus
	Source         string         // source tag the clause came from
}

// Source is one loaded database file.
type Source struct {
	Tag     string // source tag, usually the file name stem
	Path    string
	Clauses []Clause
}

// Canonicalize reduces a clause number to its lookup key: tokens are
// split on separator runes, leading tokens without digits (agency
// prefixes like "FAR") are dropped, and the rest are upper-cased and
// joined with dots. "FAR 52.212-4" and "52.212–4" both yield
// "52.212.4".
func Canonicalize(code string) string {
	tokens := strings.FieldsFunc(code, isSeparator)

	start := 0
	for start < len(tokens) && !containsDigit(tokens[start]) {
		start++
	}
	tokens = tokens[start:]
	for i, t := range tokens {
		tokens[i] = strings.ToUpper(t)
	}
	return strings.Join(tokens, ".")
}

func isSeparator(r rune) bool {
	switch r {
	case '-', '.', ' ', '\t', '–', '—', '/':
		return true
	}
	return unicode.IsSpace(r)
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// eligibleCode reports whether a clause cell looks like a clause
// number worth indexing: it must contain a digit and stay short.
// Prose cells and section headings fail both tests.
func eligibleCode(cell string) bool {
	cell = strings.TrimSpace(cell)
	if cell == "" || !containsDigit(cell) {
		return false
	}
	return len([]rune(cell)) < 30
}
