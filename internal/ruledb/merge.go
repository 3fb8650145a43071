package ruledb

import (
	"log/slog"
	"sort"
	"strings"
)

// Conflict records a clause key that appeared more than once during a
// merge, and which copy was kept.
type Conflict struct {
	Key           string
	KeptSource    string
	DroppedSource string
	KeptStatus    Classification
	DroppedStatus Classification
}

// Differs reports whether the conflict dropped a different disposition
// than the one kept, the case worth a warning.
func (c Conflict) Differs() bool {
	return c.KeptStatus != c.DroppedStatus
}

// Database is the merged clause lookup table.
type Database struct {
	clauses   map[string]Clause
	ordered   []Clause
	Conflicts []Conflict
	Tags      []string // source tags in precedence order
}

// Merge combines sources into one database. precedence orders source
// tags for conflict resolution: earlier entries win, unlisted tags
// rank after all listed ones alphabetically. Merging the same sources
// twice yields an identical database.
func Merge(sources []Source, precedence []string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ranked := make([]Source, len(sources))
	copy(ranked, sources)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := rank(ranked[i].Tag, precedence), rank(ranked[j].Tag, precedence)
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(ranked[i].Tag) < strings.ToLower(ranked[j].Tag)
	})

	db := &Database{clauses: make(map[string]Clause)}
	for _, src := range ranked {
		db.Tags = append(db.Tags, src.Tag)
		for _, c := range src.Clauses {
			existing, ok := db.clauses[c.Key]
			if !ok {
				db.clauses[c.Key] = c
				continue
			}

			// Sources are visited best-first, so the existing copy wins.
			conflict := Conflict{
				Key:           c.Key,
				KeptSource:    existing.Source,
				DroppedSource: c.Source,
				KeptStatus:    existing.Classification,
				DroppedStatus: c.Classification,
			}
			db.Conflicts = append(db.Conflicts, conflict)
			if conflict.Differs() {
				logger.Warn("clause disposition conflict",
					"key", c.Key,
					"kept", string(existing.Classification),
					"kept_source", existing.Source,
					"dropped", string(c.Classification),
					"dropped_source", c.Source,
				)
			}
		}
	}

	if len(db.clauses) == 0 {
		return nil, ErrEmptyDatabase
	}

	db.ordered = make([]Clause, 0, len(db.clauses))
	for _, c := range db.clauses {
		db.ordered = append(db.ordered, c)
	}
	sort.Slice(db.ordered, func(i, j int) bool {
		return db.ordered[i].Key < db.ordered[j].Key
	})

	return db, nil
}

// rank returns the precedence rank of a tag. Listed tags rank by
// position; unlisted tags all rank after the listed ones.
func rank(tag string, precedence []string) int {
	for i, p := range precedence {
		if strings.EqualFold(p, tag) {
			return i
		}
	}
	return len(precedence)
}

// Lookup returns the clause for a canonical key.
func (db *Database) Lookup(key string) (Clause, bool) {
	c, ok := db.clauses[key]
	return c, ok
}

// Ordered returns all clauses sorted by canonical key.
func (db *Database) Ordered() []Clause {
	return db.ordered
}

// Len returns the number of distinct clauses.
func (db *Database) Len() int {
	return len(db.clauses)
}

// CountBySource returns how many kept clauses each source tag
// contributed.
func (db *Database) CountBySource() map[string]int {
	counts := make(map[string]int)
	for _, c := range db.ordered {
		counts[c.Source]++
	}
	return counts
}
