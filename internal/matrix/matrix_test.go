package matrix

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/redlinehq/redline/internal/matcher"
	"github.com/redlinehq/redline/internal/ruledb"
)

func testColors() map[ruledb.Classification]string {
	return map[ruledb.Classification]string{
		ruledb.ClassOK:          "C6EFCE",
		ruledb.ClassConditional: "FFEB9C",
		ruledb.ClassRemove:      "FFC7CE",
		ruledb.ClassUnknown:     "D9D9D9",
	}
}

func openSheet(t *testing.T, path string) (*excelize.File, [][]string) {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatal(err)
	}
	return f, rows
}

func cellAt(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return row[col]
}

func cellFill(t *testing.T, f *excelize.File, cell string) string {
	t.Helper()
	styleID, err := f.GetCellStyle(SheetName, cell)
	if err != nil {
		t.Fatal(err)
	}
	style, err := f.GetStyle(styleID)
	if err != nil {
		t.Fatal(err)
	}
	if len(style.Fill.Color) == 0 {
		return ""
	}
	return strings.ToUpper(style.Fill.Color[0])
}

func TestWriteDocument(t *testing.T) {
	w := &Writer{Colors: testColors()}
	path := filepath.Join(t.TempDir(), "matrix.xlsx")

	matches := []matcher.Match{
		{
			Key: "52.212.4", Raw: "52.212-4", Family: "FAR",
			Title:          "Contract Terms and Conditions",
			Classification: ruledb.ClassOK, Page: 1, Confidence: 1,
		},
		{
			Key: "52.299.9", Raw: "52.299-9", Family: "FAR",
			Classification: ruledb.ClassUnknown, Page: 2, Confidence: 0.62,
		},
	}
	if err := w.WriteDocument(path, "solicitation", matches); err != nil {
		t.Fatal(err)
	}

	f, rows := openSheet(t, path)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2", len(rows))
	}

	wantHeader := []string{"Document", "Code", "Description", "Classification", "Location", "Confidence"}
	for i, h := range wantHeader {
		if got := cellAt(rows[0], i); got != h {
			t.Errorf("header %d = %q, want %q", i, got, h)
		}
	}

	want := [][]string{
		{"solicitation", "52.212-4", "Contract Terms and Conditions", "OK", "p1", "1.00"},
		{"solicitation", "52.299-9", "", "Unknown", "p2", "0.62"},
	}
	for i, wr := range want {
		for j, cell := range wr {
			if got := cellAt(rows[i+1], j); got != cell {
				t.Errorf("row %d col %d = %q, want %q", i+2, j, got, cell)
			}
		}
	}

	if fill := cellFill(t, f, "D2"); !strings.Contains(fill, "C6EFCE") {
		t.Errorf("ok fill = %q, want C6EFCE", fill)
	}
	if fill := cellFill(t, f, "D3"); !strings.Contains(fill, "D9D9D9") {
		t.Errorf("unknown fill = %q, want D9D9D9", fill)
	}

	width, err := f.GetColWidth(SheetName, "C")
	if err != nil {
		t.Fatal(err)
	}
	if width != 48 {
		t.Errorf("description width = %g, want 48", width)
	}
}

func TestWriteCombined(t *testing.T) {
	w := &Writer{Colors: testColors()}
	path := filepath.Join(t.TempDir(), "combined.xlsx")

	docs := []DocMatches{
		{Name: "beta", Matches: []matcher.Match{
			{Raw: "252.212-7001", Classification: ruledb.ClassConditional, Page: 3, Confidence: 0.9},
		}},
		{Name: "alpha", Matches: []matcher.Match{
			{Raw: "52.212-4", Classification: ruledb.ClassOK, Page: 1, Confidence: 1},
			{Raw: "52.227-14", Classification: ruledb.ClassRemove, Page: 2, Confidence: 1},
		}},
	}
	if err := w.WriteCombined(path, docs); err != nil {
		t.Fatal(err)
	}

	_, rows := openSheet(t, path)
	var gotDocs, gotCodes []string
	for _, r := range rows[1:] {
		gotDocs = append(gotDocs, cellAt(r, 0))
		gotCodes = append(gotCodes, cellAt(r, 1))
	}
	if want := []string{"alpha", "alpha", "beta"}; !reflect.DeepEqual(gotDocs, want) {
		t.Errorf("documents = %v, want %v", gotDocs, want)
	}
	if want := []string{"52.212-4", "52.227-14", "252.212-7001"}; !reflect.DeepEqual(gotCodes, want) {
		t.Errorf("codes = %v, want %v", gotCodes, want)
	}
}

func TestWriteDocument_NoMatches(t *testing.T) {
	w := &Writer{Colors: testColors()}
	path := filepath.Join(t.TempDir(), "empty.xlsx")

	if err := w.WriteDocument(path, "clean", nil); err != nil {
		t.Fatal(err)
	}

	_, rows := openSheet(t, path)
	if len(rows) != 1 {
		t.Errorf("got %d rows, want header only", len(rows))
	}
}

func TestRows(t *testing.T) {
	rows := Rows("sol", []matcher.Match{
		{Raw: "52.212-4", Title: "Terms", Classification: ruledb.ClassOK, Page: 7, Confidence: 0.5},
	})
	want := Row{
		Document: "sol", Code: "52.212-4", Description: "Terms",
		Classification: ruledb.ClassOK, Location: "p7", Confidence: 0.5,
	}
	if len(rows) != 1 || rows[0] != want {
		t.Errorf("rows = %+v, want [%+v]", rows, want)
	}
}
