package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/redlinehq/redline/internal/config"
	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/ocr"
	"github.com/redlinehq/redline/internal/ruledb"
	"github.com/redlinehq/redline/internal/testutil"
	"github.com/redlinehq/redline/internal/workspace"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	words map[string][]ocr.Word
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(_ context.Context, in ocr.Input) (ocr.Result, error) {
	return ocr.Result{Words: f.words[string(in.Image)]}, nil
}

type fakeRasterizer struct {
	fail map[int]bool
}

func (f *fakeRasterizer) RenderPage(_ context.Context, _ string, pageNumber, _ int) ([]byte, error) {
	if f.fail[pageNumber] {
		return nil, errors.New("render boom")
	}
	return []byte(fmt.Sprintf("page-%d", pageNumber)), nil
}

const clausesCSV = "Clause,Title,Status\n" +
	"52.212-4,Contract Terms and Conditions,OK\n" +
	"52.227-14,Rights in Data,Remove\n"

func testWorkspace(t *testing.T) *workspace.Dir {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.EnsureExists(); err != nil {
		t.Fatal(err)
	}
	return ws
}

func writeClauses(t *testing.T, ws *workspace.Dir) {
	t.Helper()
	path := filepath.Join(ws.DatabasePath(), "FAR_clauses.csv")
	if err := os.WriteFile(path, []byte(clausesCSV), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testConfig lowers the density threshold so the tiny fixture pages
// count as extracted unless their content stream is empty.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.OCR.TextDensityThreshold = 1
	cfg.Pipeline.Workers = 2
	return cfg
}

func testPipeline(ws *workspace.Dir, cfg *config.Config) *Pipeline {
	return &Pipeline{
		Config:     cfg,
		Workspace:  ws,
		Logger:     quietLogger(),
		Engine:     &fakeEngine{},
		Rasterizer: &fakeRasterizer{},
	}
}

func readReport(t *testing.T, path string) Report {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rep Report
	if err := yaml.Unmarshal(data, &rep); err != nil {
		t.Fatalf("failed to parse run report: %v", err)
	}
	return rep
}

func TestRun_PerDocument(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)
	testutil.WritePDF(t, ws.SolicitationsPath(), "alpha.pdf",
		testutil.TextStream(72, 700, 12, 14, "Clause 52.212-4 applies to this order."))
	testutil.WriteDOCX(t, ws.SolicitationsPath(), "beta.docx",
		testutil.Paragraph("See 52.227-14 for data rights."))

	p := testPipeline(ws, testConfig())
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.RunID == "" || res.Stamp == "" {
		t.Errorf("missing run identity: id %q, stamp %q", res.RunID, res.Stamp)
	}
	if res.DB == nil || res.DB.Len() != 2 {
		t.Fatalf("database not loaded: %+v", res.DB)
	}
	if res.CombinedMatrixPath != "" {
		t.Errorf("combined matrix written in per-document mode: %q", res.CombinedMatrixPath)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(res.Documents))
	}

	alpha, beta := res.Documents[0], res.Documents[1]
	if alpha.Name != "alpha" || beta.Name != "beta" {
		t.Fatalf("document order = %q, %q; want alpha, beta", alpha.Name, beta.Name)
	}
	for _, dr := range res.Documents {
		if dr.Status != StatusSuccess {
			t.Errorf("%s status = %q (err %v), want %q", dr.Name, dr.Status, dr.Err, StatusSuccess)
		}
		if len(dr.Matches) != 1 {
			t.Errorf("%s matches = %d, want 1", dr.Name, len(dr.Matches))
			continue
		}
		if dr.MatrixPath == "" {
			t.Errorf("%s has no matrix path", dr.Name)
		} else if _, err := os.Stat(dr.MatrixPath); err != nil {
			t.Errorf("%s matrix: %v", dr.Name, err)
		}
		if dr.Annotation.Path == "" {
			t.Errorf("%s has no annotated copy", dr.Name)
		} else if _, err := os.Stat(dr.Annotation.Path); err != nil {
			t.Errorf("%s annotated copy: %v", dr.Name, err)
		}
	}
	if alpha.Method != doc.MethodNative {
		t.Errorf("alpha method = %q, want %q", alpha.Method, doc.MethodNative)
	}
	if alpha.Matches[0].Key != "52.212.4" {
		t.Errorf("alpha match key = %q, want 52.212.4", alpha.Matches[0].Key)
	}
	if got := beta.Matches[0].Classification; got != ruledb.ClassRemove {
		t.Errorf("beta classification = %q, want %q", got, ruledb.ClassRemove)
	}
	if !strings.Contains(filepath.Base(alpha.MatrixPath), res.Stamp) {
		t.Errorf("matrix name %q does not carry stamp %q", filepath.Base(alpha.MatrixPath), res.Stamp)
	}

	if res.ReportPath == "" {
		t.Fatal("no run report written")
	}
	rep := readReport(t, res.ReportPath)
	if rep.RunID != res.RunID {
		t.Errorf("report run id = %q, want %q", rep.RunID, res.RunID)
	}
	if rep.Database.Clauses != 2 {
		t.Errorf("report clauses = %d, want 2", rep.Database.Clauses)
	}
	if len(rep.Docs) != 2 {
		t.Fatalf("report documents = %d, want 2", len(rep.Docs))
	}
	if rep.Docs[0].Status != StatusSuccess || rep.Docs[0].Matches != 1 {
		t.Errorf("report doc = %+v, want success with 1 match", rep.Docs[0])
	}
	if rep.Docs[1].Matrix != beta.MatrixPath {
		t.Errorf("report matrix = %q, want %q", rep.Docs[1].Matrix, beta.MatrixPath)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)
	testutil.WritePDF(t, ws.SolicitationsPath(), "alpha.pdf",
		testutil.TextStream(72, 700, 12, 14, "Clause 52.212-4 applies."))
	broken := filepath.Join(ws.SolicitationsPath(), "broken.pdf")
	if err := os.WriteFile(broken, []byte("%PDF-1.4\nnot a real document"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := testPipeline(ws, testConfig())
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("a document failure must not fail the run: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(res.Documents))
	}

	alpha, bad := res.Documents[0], res.Documents[1]
	if alpha.Status != StatusSuccess {
		t.Errorf("alpha status = %q (err %v), want %q", alpha.Status, alpha.Err, StatusSuccess)
	}
	if bad.Status != StatusFailed || bad.Err == nil {
		t.Errorf("broken status = %q (err %v), want %q with error", bad.Status, bad.Err, StatusFailed)
	}

	stale, err := filepath.Glob(filepath.Join(ws.OutputPath(), "*broken*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("failed document left artifacts: %v", stale)
	}

	rep := readReport(t, res.ReportPath)
	if len(rep.Docs) != 2 {
		t.Fatalf("report documents = %d, want 2", len(rep.Docs))
	}
	if rep.Docs[1].Status != StatusFailed || rep.Docs[1].Error == "" {
		t.Errorf("report for broken = %+v, want failed with error", rep.Docs[1])
	}
}

func TestRun_Combined(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)
	testutil.WritePDF(t, ws.SolicitationsPath(), "alpha.pdf",
		testutil.TextStream(72, 700, 12, 14, "Clause 52.212-4 applies."))
	testutil.WriteDOCX(t, ws.SolicitationsPath(), "beta.docx",
		testutil.Paragraph("See 52.227-14 for data rights."))

	cfg := testConfig()
	cfg.Matrix.Aggregation = "combined"
	p := testPipeline(ws, cfg)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.CombinedMatrixPath == "" {
		t.Fatal("no combined matrix written")
	}
	if _, err := os.Stat(res.CombinedMatrixPath); err != nil {
		t.Errorf("combined matrix: %v", err)
	}
	for _, dr := range res.Documents {
		if dr.MatrixPath != "" {
			t.Errorf("%s has a per-document matrix in combined mode: %q", dr.Name, dr.MatrixPath)
		}
	}
	perDoc, err := filepath.Glob(filepath.Join(ws.OutputPath(), "Compliance_Matrix_alpha_*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(perDoc) != 0 {
		t.Errorf("per-document matrices written in combined mode: %v", perDoc)
	}

	rep := readReport(t, res.ReportPath)
	if rep.Combined != res.CombinedMatrixPath {
		t.Errorf("report combined matrix = %q, want %q", rep.Combined, res.CombinedMatrixPath)
	}
}

func TestRun_OCRFallback(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)
	// An empty content stream leaves the page without a text layer.
	testutil.WritePDF(t, ws.SolicitationsPath(), "scan.pdf", "")

	cfg := testConfig()
	p := testPipeline(ws, cfg)
	p.Engine = &fakeEngine{
		words: map[string][]ocr.Word{
			"page-1": {
				{Text: "Clause", Bounds: ocr.Region{X: 300, Y: 300, Width: 600, Height: 150}, Confidence: 0.93},
				{Text: "52.212-4", Bounds: ocr.Region{X: 950, Y: 300, Width: 900, Height: 150}, Confidence: 0.88},
			},
		},
	}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 1 {
		t.Fatalf("documents = %d, want 1", len(res.Documents))
	}

	dr := res.Documents[0]
	if dr.Status != StatusSuccess {
		t.Errorf("status = %q (err %v), want %q", dr.Status, dr.Err, StatusSuccess)
	}
	if dr.Method != doc.MethodOCR {
		t.Errorf("method = %q, want %q", dr.Method, doc.MethodOCR)
	}
	if dr.OCR.PagesProcessed != 1 || dr.OCR.Words != 2 {
		t.Errorf("ocr stats = %+v, want 1 page and 2 words", dr.OCR)
	}
	if len(dr.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(dr.Matches))
	}
	m := dr.Matches[0]
	if m.Key != "52.212.4" {
		t.Errorf("match key = %q, want 52.212.4", m.Key)
	}
	if len(m.Regions) == 0 || !m.Regions[0].OCR {
		t.Errorf("match regions = %+v, want OCR-sourced", m.Regions)
	}
	if dr.Annotation.Path == "" {
		t.Error("no annotated copy written for OCR match")
	}
}

func TestRun_PartialOnOCRPageFailure(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)
	testutil.WritePDF(t, ws.SolicitationsPath(), "mixed.pdf",
		testutil.TextStream(72, 700, 12, 14, "Clause 52.212-4 applies."),
		"")

	p := testPipeline(ws, testConfig())
	p.Rasterizer = &fakeRasterizer{fail: map[int]bool{2: true}}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	dr := res.Documents[0]
	if dr.Status != StatusPartial {
		t.Errorf("status = %q, want %q", dr.Status, StatusPartial)
	}
	if len(dr.OCR.PagesFailed) != 1 || dr.OCR.PagesFailed[0] != 2 {
		t.Errorf("PagesFailed = %v, want [2]", dr.OCR.PagesFailed)
	}
	if len(dr.Matches) != 1 {
		t.Errorf("matches = %d, want 1 from the native page", len(dr.Matches))
	}
	if dr.MatrixPath == "" {
		t.Error("partial document should still produce a matrix")
	}

	rep := readReport(t, res.ReportPath)
	if len(rep.Docs) != 1 {
		t.Fatalf("report documents = %d, want 1", len(rep.Docs))
	}
	found := false
	for _, w := range rep.Docs[0].Warnings {
		if strings.Contains(w, "ocr failed on page 2") {
			found = true
		}
	}
	if !found {
		t.Errorf("report warnings = %v, want ocr page failure", rep.Docs[0].Warnings)
	}
}

func TestRun_EmptyDatabase(t *testing.T) {
	ws := testWorkspace(t)
	testutil.WritePDF(t, ws.SolicitationsPath(), "alpha.pdf",
		testutil.TextStream(72, 700, 12, 14, "Clause 52.212-4 applies."))

	p := testPipeline(ws, testConfig())
	_, err := p.Run(context.Background())
	if !errors.Is(err, ruledb.ErrEmptyDatabase) {
		t.Fatalf("err = %v, want ErrEmptyDatabase", err)
	}
}

func TestRun_NoDocuments(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)

	p := testPipeline(ws, testConfig())
	_, err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no documents") {
		t.Fatalf("err = %v, want no documents error", err)
	}
}

func TestRun_UnknownAggregation(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)

	cfg := testConfig()
	cfg.Matrix.Aggregation = "weekly"
	p := testPipeline(ws, cfg)
	_, err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "aggregation") {
		t.Fatalf("err = %v, want aggregation error", err)
	}
}

func TestRun_SkipsUnsupportedFiles(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)
	testutil.WritePDF(t, ws.SolicitationsPath(), "alpha.pdf",
		testutil.TextStream(72, 700, 12, 14, "Clause 52.212-4 applies."))
	notes := filepath.Join(ws.SolicitationsPath(), "notes.txt")
	if err := os.WriteFile(notes, []byte("just notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	hidden := filepath.Join(ws.SolicitationsPath(), ".DS_Store")
	if err := os.WriteFile(hidden, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}

	p := testPipeline(ws, testConfig())
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 1 || res.Documents[0].Name != "alpha" {
		t.Fatalf("documents = %+v, want only alpha", res.Documents)
	}
}

func TestRun_Canceled(t *testing.T) {
	ws := testWorkspace(t)
	writeClauses(t, ws)
	testutil.WritePDF(t, ws.SolicitationsPath(), "alpha.pdf",
		testutil.TextStream(72, 700, 12, 14, "Clause 52.212-4 applies."))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := testPipeline(ws, testConfig())
	_, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
