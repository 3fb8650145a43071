package ruledb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"52.212-4", "52.212.4"},
		{"FAR 52.212-4", "52.212.4"},
		{"far 52.212-4", "52.212.4"},
		{"52.212–4", "52.212.4"}, // en dash
		{"52 212 4", "52.212.4"},
		{"252.212-7001", "252.212.7001"},
		{"1852.212-70", "1852.212.70"},
		{"52.212-4 Alt I", "52.212.4.ALT.I"},
		{"  52.212-4  ", "52.212.4"},
		{"", ""},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := Canonicalize(tc.in); got != tc.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseClassification(t *testing.T) {
	cases := []struct {
		in   string
		want Classification
	}{
		{"ok", ClassOK},
		{"OK", ClassOK},
		{" Ok ", ClassOK},
		{"c", ClassConditional},
		{"Conditional", ClassConditional},
		{"remove", ClassRemove},
		{"R", ClassRemove},
		{"", ClassUnknown},
		{"pending legal review", ClassUnknown},
	}

	for _, tc := range cases {
		if got := ParseClassification(tc.in); got != tc.want {
			t.Errorf("ParseClassification(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestSkipFile(t *testing.T) {
	skip := []string{
		"~$FAR Matrix.xlsx",
		".DS_Store",
		"Definitions and Acronyms.xlsx",
		"Compliance_Matrix_RFP-101_2024-03-09_14-30-05.xlsx",
	}
	for _, name := range skip {
		if !SkipFile(name) {
			t.Errorf("expected %s to be skipped", name)
		}
	}

	keep := []string{"FAR.csv", "DFARS Matrix.xlsx", "supplemental.xlsm"}
	for _, name := range keep {
		if SkipFile(name) {
			t.Errorf("expected %s to be loaded", name)
		}
	}
}

func TestCleanHeader(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Clause\nNumber", "Clause Number"},
		{"Status*", "Status"},
		{"  Title   ", "Title"},
		{"Clause \r\n Number", "Clause Number"},
	}
	for _, tc := range cases {
		if got := CleanHeader(tc.in); got != tc.want {
			t.Errorf("CleanHeader(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDir_CSV(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "FAR.csv", "Clause,Title,Status\n52.212-4,Contract Terms,OK\nThis row is prose and far too long to be a clause number,x,y\n52.233-1,Disputes,c\n")

	sources, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}

	src := sources[0]
	if src.Tag != "FAR" {
		t.Errorf("expected tag FAR, got %s", src.Tag)
	}
	if len(src.Clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d: %+v", len(src.Clauses), src.Clauses)
	}

	first := src.Clauses[0]
	if first.Key != "52.212.4" {
		t.Errorf("expected key 52.212.4, got %s", first.Key)
	}
	if first.Code != "52.212-4" {
		t.Errorf("expected code 52.212-4, got %s", first.Code)
	}
	if first.Title != "Contract Terms" {
		t.Errorf("expected title Contract Terms, got %s", first.Title)
	}
	if first.Classification != ClassOK {
		t.Errorf("expected ok, got %s", first.Classification)
	}
	if src.Clauses[1].Classification != ClassConditional {
		t.Errorf("expected conditional, got %s", src.Clauses[1].Classification)
	}
}

func TestLoadDir_HeaderAliases(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "supp.csv", "Code,Description,Classification,Source\n252.212-7001,Other Terms,remove,DFARS\n")

	sources, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(sources) != 1 || len(sources[0].Clauses) != 1 {
		t.Fatalf("unexpected sources: %+v", sources)
	}

	c := sources[0].Clauses[0]
	if c.Title != "Other Terms" {
		t.Errorf("expected description alias to map to title, got %s", c.Title)
	}
	if c.Classification != ClassRemove {
		t.Errorf("expected remove, got %s", c.Classification)
	}
	if c.Source != "DFARS" {
		t.Errorf("expected source column to override file tag, got %s", c.Source)
	}
}

func TestLoadDir_Latin1(t *testing.T) {
	dir := t.TempDir()
	// 0xE9 is é in Latin-1 and invalid UTF-8 on its own.
	content := []byte("Clause,Title,Status\n52.212-4,Clause r\xe9sum\xe9,OK\n")
	if err := os.WriteFile(filepath.Join(dir, "FAR.csv"), content, 0o644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}

	sources, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(sources[0].Clauses) != 1 {
		t.Fatalf("expected 1 clause, got %d", len(sources[0].Clauses))
	}
	if got := sources[0].Clauses[0].Title; got != "Clause résumé" {
		t.Errorf("expected latin-1 title to decode, got %q", got)
	}
}

func TestLoadDir_SkipsAndMissingColumn(t *testing.T) {
	t.Run("skips lock and definition files", func(t *testing.T) {
		dir := t.TempDir()
		writeCSV(t, dir, "FAR.csv", "Clause,Status\n52.212-4,OK\n")
		writeCSV(t, dir, "~$FAR.csv", "garbage")
		writeCSV(t, dir, "Definitions.csv", "Term,Meaning\nFAR,Federal Acquisition Regulation\n")
		writeCSV(t, dir, "notes.txt", "not a database")

		sources, err := LoadDir(dir, nil)
		if err != nil {
			t.Fatalf("LoadDir failed: %v", err)
		}
		if len(sources) != 1 {
			t.Fatalf("expected 1 source, got %d", len(sources))
		}
	})

	t.Run("missing clause column fails", func(t *testing.T) {
		dir := t.TempDir()
		writeCSV(t, dir, "bad.csv", "Frobnication,Status\nx,y\n")

		if _, err := LoadDir(dir, nil); err == nil {
			t.Fatal("expected an error for missing clause column")
		}
	})
}

func TestLoadDir_Excel(t *testing.T) {
	dir := t.TempDir()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range [][]any{
		{"Clause", "Title", "Status"},
		{"1852.212-70", "NASA Supplement", "OK"},
		{"", "", ""},
		{"1852.233-70", "Protests", "c"},
	} {
		for j, v := range row {
			cellName, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cellName, v); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	if err := f.SaveAs(filepath.Join(dir, "NASA.xlsx")); err != nil {
		t.Fatalf("failed to save workbook: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close workbook: %v", err)
	}

	sources, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}

	src := sources[0]
	if src.Tag != "NASA" {
		t.Errorf("expected tag NASA, got %s", src.Tag)
	}
	if len(src.Clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d: %+v", len(src.Clauses), src.Clauses)
	}
	if src.Clauses[0].Key != "1852.212.70" {
		t.Errorf("expected key 1852.212.70, got %s", src.Clauses[0].Key)
	}
}

func TestMerge(t *testing.T) {
	far := Source{Tag: "FAR", Clauses: []Clause{
		{Key: "52.212.4", Code: "52.212-4", Classification: ClassOK, Source: "FAR"},
		{Key: "52.233.1", Code: "52.233-1", Classification: ClassConditional, Source: "FAR"},
	}}
	dfars := Source{Tag: "DFARS", Clauses: []Clause{
		{Key: "252.212.7001", Code: "252.212-7001", Classification: ClassRemove, Source: "DFARS"},
		{Key: "52.212.4", Code: "52.212-4", Classification: ClassRemove, Source: "DFARS"},
	}}
	precedence := []string{"FAR", "DFARS"}

	t.Run("precedence wins conflicts", func(t *testing.T) {
		// Pass sources out of order; precedence still decides.
		db, err := Merge([]Source{dfars, far}, precedence, nil)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}

		if db.Len() != 3 {
			t.Errorf("expected 3 clauses, got %d", db.Len())
		}

		c, ok := db.Lookup("52.212.4")
		if !ok {
			t.Fatal("expected 52.212.4 in database")
		}
		if c.Source != "FAR" || c.Classification != ClassOK {
			t.Errorf("expected FAR copy to win, got %+v", c)
		}

		if len(db.Conflicts) != 1 {
			t.Fatalf("expected 1 conflict, got %d", len(db.Conflicts))
		}
		conflict := db.Conflicts[0]
		if conflict.KeptSource != "FAR" || conflict.DroppedSource != "DFARS" {
			t.Errorf("unexpected conflict %+v", conflict)
		}
		if !conflict.Differs() {
			t.Error("expected differing dispositions to be flagged")
		}
	})

	t.Run("unlisted sources rank last alphabetically", func(t *testing.T) {
		zeta := Source{Tag: "zeta", Clauses: []Clause{{Key: "99.001", Classification: ClassOK, Source: "zeta"}}}
		alpha := Source{Tag: "alpha", Clauses: []Clause{{Key: "99.001", Classification: ClassRemove, Source: "alpha"}}}

		db, err := Merge([]Source{zeta, alpha, far}, precedence, nil)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}

		c, _ := db.Lookup("99.001")
		if c.Source != "alpha" {
			t.Errorf("expected alpha to outrank zeta, got %s", c.Source)
		}
		if len(db.Tags) != 3 || db.Tags[0] != "FAR" || db.Tags[1] != "alpha" {
			t.Errorf("unexpected tag order %v", db.Tags)
		}
	})

	t.Run("ordered is sorted and deterministic", func(t *testing.T) {
		db1, err := Merge([]Source{far, dfars}, precedence, nil)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		db2, err := Merge([]Source{dfars, far}, precedence, nil)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}

		o1, o2 := db1.Ordered(), db2.Ordered()
		if len(o1) != len(o2) {
			t.Fatalf("expected identical databases, got %d and %d clauses", len(o1), len(o2))
		}
		for i := range o1 {
			if o1[i] != o2[i] {
				t.Errorf("order differs at %d: %+v vs %+v", i, o1[i], o2[i])
			}
			if i > 0 && o1[i-1].Key >= o1[i].Key {
				t.Errorf("ordered not sorted at %d: %s >= %s", i, o1[i-1].Key, o1[i].Key)
			}
		}
	})

	t.Run("counts by source", func(t *testing.T) {
		db, err := Merge([]Source{far, dfars}, precedence, nil)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		counts := db.CountBySource()
		if counts["FAR"] != 2 || counts["DFARS"] != 1 {
			t.Errorf("unexpected counts %v", counts)
		}
	})

	t.Run("empty database", func(t *testing.T) {
		_, err := Merge(nil, precedence, nil)
		if !errors.Is(err, ErrEmptyDatabase) {
			t.Errorf("expected ErrEmptyDatabase, got %v", err)
		}
	})
}
