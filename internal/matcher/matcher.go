// Package matcher locates agency clause numbers in positioned document
// text and classifies them against the merged clause database.
//
// Each agency family contributes one grammar. Lines are assembled from
// span geometry before scanning so numbers split across spans are still
// seen whole, and adjacent lines are rescanned joined so numbers split
// by a line wrap or a page break come back as a single match.
package matcher

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/ruledb"
)

// defaultWrapTolerance is the vertical gap, in line heights, across
// which a clause number split by a line wrap is still joined.
const defaultWrapTolerance = 2.5

// Region is one rectangular piece of a match on a page. A match that
// sits inside a single span has one region; matches crossing spans,
// line wraps, or page breaks carry one region per contributing span.
type Region struct {
	Page       int
	Box        doc.BBox
	OCR        bool    // text came from OCR rather than a text layer
	Confidence float64 // the contributing span's confidence
}

// Match is one clause number located in a document.
type Match struct {
	Key            string // canonical database key
	Raw            string // the number as written in the document
	Family         string // grammar family that recognized it
	Title          string // database description, empty when unknown
	Source         string // database source tag, empty when unknown
	Classification ruledb.Classification
	DocumentID     string
	Page           int // page the match starts on
	Regions        []Region

	// Confidence is the minimum over contributing spans. LowConfidence
	// is set when any contributing span was flagged by OCR.
	Confidence    float64
	LowConfidence bool
}

// family is one compiled clause grammar.
type family struct {
	name string
	re   *regexp.Regexp
}

// Matcher scans documents for clause numbers. It is safe for
// concurrent use once built.
type Matcher struct {
	families  []family
	tolerance float64
	db        *ruledb.Database
	logger    *slog.Logger
}

// New compiles the family grammars and binds the clause database.
// A pattern that does not compile is fatal. tolerance bounds wrap
// joining in line heights; zero or negative falls back to the default.
func New(families map[string]string, tolerance float64, db *ruledb.Database, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled, err := compileFamilies(families)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		families:  compiled,
		tolerance: tolerance,
		db:        db,
		logger:    logger,
	}, nil
}

// compileFamilies compiles the name to pattern map into a fixed scan
// order so runs over the same input produce the same matches.
func compileFamilies(patterns map[string]string) ([]family, error) {
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ui, uj := strings.ToUpper(names[i]), strings.ToUpper(names[j])
		if ui != uj {
			return ui < uj
		}
		return names[i] < names[j]
	})

	families := make([]family, 0, len(names))
	for _, name := range names {
		re, err := regexp.Compile(patterns[name])
		if err != nil {
			return nil, fmt.Errorf("family %s: compiling pattern: %w", name, err)
		}
		families = append(families, family{name: name, re: re})
	}
	return families, nil
}

// Find locates every clause number in d. Matches come back in reading
// order: page, then top to bottom, then left to right, then key. A
// number the database does not know still comes back, classified
// unknown.
func (m *Matcher) Find(d *doc.Document) []Match {
	lines := assembleLines(d)
	hits := dedupe(m.scan(lines))

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, m.resolve(d, lines, h))
	}
	sortMatches(matches)
	return matches
}

func (m *Matcher) resolve(d *doc.Document, lines []line, h hit) Match {
	key := ruledb.Canonicalize(h.raw)
	match := Match{
		Key:            key,
		Raw:            h.raw,
		Family:         h.family,
		Classification: ruledb.ClassUnknown,
		DocumentID:     d.ID,
		Page:           lines[h.segments[0].line].page.Number,
		Confidence:     1,
	}

	if c, ok := m.db.Lookup(key); ok {
		match.Title = c.Title
		match.Source = c.Source
		match.Classification = c.Classification
	} else {
		m.logger.Warn("code not in clause database",
			"doc", d.Name, "code", h.raw, "key", key, "page", match.Page)
	}

	for _, seg := range h.segments {
		regions, spans := lines[seg.line].regions(seg)
		match.Regions = append(match.Regions, regions...)
		for _, s := range spans {
			if s.Confidence < match.Confidence {
				match.Confidence = s.Confidence
			}
			if s.LowConfidence {
				match.LowConfidence = true
			}
		}
	}
	return match
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if at, bt := a.top(), b.top(); at != bt {
			return at > bt
		}
		if ax, bx := a.left(), b.left(); ax != bx {
			return ax < bx
		}
		return a.Key < b.Key
	})
}

// top returns the top edge of the match's first region.
func (m Match) top() float64 {
	if len(m.Regions) == 0 {
		return 0
	}
	return m.Regions[0].Box.Top()
}

// left returns the left edge of the match's first region.
func (m Match) left() float64 {
	if len(m.Regions) == 0 {
		return 0
	}
	return m.Regions[0].Box.Left()
}
