package annotate

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/loader"
	"github.com/redlinehq/redline/internal/matcher"
	"github.com/redlinehq/redline/internal/ruledb"
	"github.com/redlinehq/redline/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAnnotator() *Annotator {
	return &Annotator{
		Colors: map[ruledb.Classification]string{
			ruledb.ClassOK:     "C6EFCE",
			ruledb.ClassRemove: "FFC7CE",
		},
		InflateMargin: 6,
		Logger:        quietLogger(),
	}
}

func TestAnnotatePDF(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WritePDF(t, dir, "sol.pdf",
		testutil.TextStream(72, 700, 12, 14, "FAR 52.212-4 applies."))

	ld := loader.New(1, quietLogger())
	d, err := ld.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	matches := []matcher.Match{{
		Key:            "52.212.4",
		Raw:            "52.212-4",
		Family:         "FAR",
		Classification: ruledb.ClassOK,
		Page:           1,
		Regions: []matcher.Region{
			{Page: 1, Box: doc.NewBBox(112, 700, 48, 12), Confidence: 1},
		},
		Confidence: 1,
	}}

	out := filepath.Join(dir, "sol_highlighted.pdf")
	res, err := testAnnotator().Annotate(d, matches, out)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if res.Path != out {
		t.Fatalf("res.Path = %q, want %q", res.Path, out)
	}
	if res.Highlights != 1 || res.Skipped != 0 || len(res.PageErrors) != 0 {
		t.Errorf("res = %+v, want one highlight and no failures", res)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	annotated, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(annotated, original) {
		t.Error("annotated file does not start with the original bytes")
	}
	for _, want := range []string{"/Highlight", "/QuadPoints", "/Prev"} {
		if !bytes.Contains(annotated[len(original):], []byte(want)) {
			t.Errorf("update section missing %s", want)
		}
	}

	reloaded, err := ld.Load(out)
	if err != nil {
		t.Fatalf("reloading annotated file: %v", err)
	}
	if got, want := reloaded.Text(), d.Text(); got != want {
		t.Errorf("annotated text = %q, want original %q", got, want)
	}
	if len(reloaded.Pages) != len(d.Pages) {
		t.Errorf("annotated page count = %d, want %d", len(reloaded.Pages), len(d.Pages))
	}
}

func TestAnnotatePDF_DegenerateRegionSkipped(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WritePDF(t, dir, "sol.pdf",
		testutil.TextStream(72, 700, 12, 14, "FAR 52.212-4 applies."))

	ld := loader.New(1, quietLogger())
	d, err := ld.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	matches := []matcher.Match{{
		Raw:            "52.212-4",
		Classification: ruledb.ClassOK,
		Regions: []matcher.Region{
			{Page: 1, Box: doc.NewBBox(112, 700, 0, 12), Confidence: 1},
		},
	}}

	out := filepath.Join(dir, "sol_highlighted.pdf")
	res, err := testAnnotator().Annotate(d, matches, out)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if res.Path != "" || res.Highlights != 0 {
		t.Errorf("res = %+v, want nothing written", res)
	}
	if res.Skipped != 1 {
		t.Errorf("res.Skipped = %d, want 1", res.Skipped)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output file exists, want none")
	}
}

func TestAnnotate_UnsupportedFormat(t *testing.T) {
	d := &doc.Document{Format: doc.Format("epub")}
	if _, err := testAnnotator().Annotate(d, nil, "out"); err == nil {
		t.Fatal("Annotate() = nil error, want unsupported format error")
	}
}

func TestRegionBox(t *testing.T) {
	a := testAnnotator()
	page := &doc.Page{Width: 612, Height: 792}

	t.Run("native box unchanged", func(t *testing.T) {
		got := a.regionBox(matcher.Region{Box: doc.NewBBox(100, 700, 50, 12), Confidence: 1}, page)
		assertBoxNear(t, got, 100, 700, 50, 12)
	})

	t.Run("ocr box grows with uncertainty", func(t *testing.T) {
		r := matcher.Region{OCR: true, Confidence: 0.5, Box: doc.NewBBox(100, 700, 50, 12)}
		// (1 - 0.5) * 6 = 3 points on each side.
		assertBoxNear(t, a.regionBox(r, page), 97, 697, 56, 18)
	})

	t.Run("inflation clamps to the page", func(t *testing.T) {
		r := matcher.Region{OCR: true, Confidence: 0, Box: doc.NewBBox(600, 780, 20, 20)}
		assertBoxNear(t, a.regionBox(r, page), 594, 774, 18, 18)
	})
}

func assertBoxNear(t *testing.T, got doc.BBox, x, y, w, h float64) {
	t.Helper()
	const eps = 1e-6
	if math.Abs(got.X-x) > eps || math.Abs(got.Y-y) > eps ||
		math.Abs(got.Width-w) > eps || math.Abs(got.Height-h) > eps {
		t.Errorf("box = %+v, want (%g, %g, %g, %g)", got, x, y, w, h)
	}
}

func TestLastStartXref(t *testing.T) {
	data := []byte("%PDF-1.4\n...\nstartxref\n100\n%%EOF\nmore\nstartxref\n4321\n%%EOF\n")
	got, err := lastStartXref(data)
	if err != nil {
		t.Fatalf("lastStartXref: %v", err)
	}
	if got != 4321 {
		t.Errorf("offset = %d, want 4321", got)
	}

	if _, err := lastStartXref([]byte("no xref here")); err == nil {
		t.Error("lastStartXref() = nil error for data without startxref")
	}
}

func TestColorComponents(t *testing.T) {
	r, g, b, ok := colorComponents("C6EFCE")
	if !ok {
		t.Fatal("colorComponents(C6EFCE) not ok")
	}
	const eps = 1e-6
	if math.Abs(r-198.0/255) > eps || math.Abs(g-239.0/255) > eps || math.Abs(b-206.0/255) > eps {
		t.Errorf("components = %g %g %g", r, g, b)
	}

	if _, _, _, ok := colorComponents("#FFC7CE"); !ok {
		t.Error("leading # should be accepted")
	}
	if _, _, _, ok := colorComponents("nothex"); ok {
		t.Error("colorComponents(nothex) ok, want failure")
	}
}
