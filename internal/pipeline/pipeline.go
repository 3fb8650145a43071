// Package pipeline drives a full review run: load the clause database,
// review every solicitation document concurrently, and write matrices,
// annotated copies and the run report into the workspace output
// directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/redlinehq/redline/internal/annotate"
	"github.com/redlinehq/redline/internal/config"
	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/loader"
	"github.com/redlinehq/redline/internal/matcher"
	"github.com/redlinehq/redline/internal/matrix"
	"github.com/redlinehq/redline/internal/ocr"
	"github.com/redlinehq/redline/internal/ruledb"
	"github.com/redlinehq/redline/internal/workspace"
)

// Status classifies how one document's review went.
type Status string

const (
	// StatusSuccess means every stage completed cleanly.
	StatusSuccess Status = "success"
	// StatusPartial means artifacts were produced but some pages
	// failed OCR or annotation.
	StatusPartial Status = "partial"
	// StatusFailed means the document produced no usable artifacts.
	StatusFailed Status = "failed"
)

// DocResult is the outcome of one document's review.
type DocResult struct {
	Name       string
	Path       string
	Status     Status
	Err        error
	Method     doc.Method
	Matches    []matcher.Match
	OCR        ocr.Stats
	Annotation annotate.Result
	MatrixPath string
}

// Result summarizes a whole run.
type Result struct {
	RunID              string
	Stamp              string
	Started            time.Time
	Duration           time.Duration
	DB                 *ruledb.Database
	Documents          []DocResult
	CombinedMatrixPath string
	ReportPath         string
}

// Pipeline wires the review stages together.
type Pipeline struct {
	Config    *config.Config
	Workspace *workspace.Dir
	Logger    *slog.Logger

	// Engine and Rasterizer override the OCR stack. Nil selects the
	// configured engine and the poppler rasterizer.
	Engine     ocr.Engine
	Rasterizer ocr.Rasterizer
}

// Run reviews every solicitation in the workspace. Individual document
// failures are recorded on their DocResult and never abort the batch;
// the returned error covers run-level failures such as an empty clause
// database, an empty solicitations directory or a canceled context.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	logger := p.logger()
	started := time.Now()

	res := &Result{
		RunID:   uuid.NewString(),
		Stamp:   workspace.Stamp(started),
		Started: started,
	}

	combined, err := combinedMode(p.Config.Matrix.Aggregation)
	if err != nil {
		return nil, err
	}

	sources, err := ruledb.LoadDir(p.Workspace.DatabasePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load clause database: %w", err)
	}
	db, err := ruledb.Merge(sources, p.Config.Sources.Precedence, logger)
	if err != nil {
		return nil, err
	}
	res.DB = db
	logger.Info("clause database ready",
		"clauses", db.Len(),
		"sources", len(db.Tags),
		"conflicts", len(db.Conflicts))

	m, err := matcher.New(familyPatterns(p.Config), p.Config.Matcher.WrapJoinTolerance, db, logger)
	if err != nil {
		return nil, err
	}

	paths, err := p.solicitations(logger)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no documents to review in " + p.Workspace.SolicitationsPath())
	}

	engine := p.Engine
	if engine == nil {
		engine, err = ocr.Lookup(p.Config.OCR.Engine)
		if err != nil {
			return nil, err
		}
	}
	rasterizer := p.Rasterizer
	if rasterizer == nil {
		rasterizer = ocr.Poppler{}
	}

	colors := colorMap(p.Config)
	r := &run{
		ws:     p.Workspace,
		loader: loader.New(p.Config.OCR.TextDensityThreshold, logger),
		ocr: &ocr.Processor{
			Engine:          engine,
			Rasterizer:      rasterizer,
			DPI:             p.Config.OCR.DPI,
			Languages:       p.Config.OCR.Languages,
			ConfidenceFloor: p.Config.OCR.ConfidenceFloor,
			Workers:         p.Config.OCR.Workers,
			Logger:          logger,
		},
		matcher: m,
		writer:  &matrix.Writer{Colors: colors},
		annotator: &annotate.Annotator{
			Colors:        colors,
			InflateMargin: p.Config.Annotate.InflateMargin,
			Logger:        logger,
		},
		stamp:    res.Stamp,
		combined: combined,
		logger:   logger,
	}

	res.Documents = make([]DocResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, path := range paths {
		g.Go(func() error {
			res.Documents[i] = r.processDocument(gctx, path)
			return nil // document failures never sink the batch
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var runErr error
	if combined {
		docs := make([]matrix.DocMatches, 0, len(res.Documents))
		for _, dr := range res.Documents {
			if dr.Status == StatusFailed {
				continue
			}
			docs = append(docs, matrix.DocMatches{Name: dr.Name, Matches: dr.Matches})
		}
		path := p.Workspace.CombinedMatrixPath(res.Stamp)
		if err := r.writer.WriteCombined(path, docs); err != nil {
			logger.Error("combined matrix failed", "error", err)
			runErr = err
		} else {
			res.CombinedMatrixPath = path
		}
	}

	res.Duration = time.Since(started)

	reportPath := p.Workspace.ReportPath(res.Stamp)
	if err := writeReport(reportPath, res); err != nil {
		logger.Error("run report failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		res.ReportPath = reportPath
	}

	logger.Info("run finished",
		"documents", len(res.Documents),
		"failed", countStatus(res.Documents, StatusFailed),
		"partial", countStatus(res.Documents, StatusPartial),
		"duration", res.Duration.Round(time.Millisecond))
	return res, runErr
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) workers() int {
	if n := p.Config.Pipeline.Workers; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// solicitations lists reviewable files in the workspace, sorted for a
// stable processing order. Unsupported files are skipped with a
// warning.
func (p *Pipeline) solicitations(logger *slog.Logger) ([]string, error) {
	dir := p.Workspace.SolicitationsPath()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read solicitations: %w", err)
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
			continue
		}
		path := filepath.Join(dir, name)
		if _, err := loader.Detect(path); err != nil {
			logger.Warn("skipping unsupported file", "path", path, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// run carries the stages shared by every document of one run.
type run struct {
	ws        *workspace.Dir
	loader    *loader.Loader
	ocr       *ocr.Processor
	matcher   *matcher.Matcher
	writer    *matrix.Writer
	annotator *annotate.Annotator
	stamp     string
	combined  bool
	logger    *slog.Logger
}

// processDocument runs one document through load, OCR, matching and
// artifact generation. It never panics the batch; failures land on the
// returned DocResult.
func (r *run) processDocument(ctx context.Context, path string) DocResult {
	base := filepath.Base(path)
	dr := DocResult{
		Name: strings.TrimSuffix(base, filepath.Ext(base)),
		Path: path,
	}
	if err := ctx.Err(); err != nil {
		dr.Status = StatusFailed
		dr.Err = err
		return dr
	}

	d, err := r.loader.Load(path)
	if err != nil {
		r.logger.Error("document unreadable", "path", path, "error", err)
		dr.Status = StatusFailed
		dr.Err = err
		return dr
	}
	dr.Name = d.Name

	stats, err := r.ocr.Process(ctx, d)
	dr.OCR = stats
	if err != nil {
		dr.Status = StatusFailed
		dr.Err = err
		return dr
	}
	dr.Method = d.Method()

	dr.Matches = r.matcher.Find(d)
	r.logger.Info("document reviewed",
		"doc", d.Name,
		"pages", len(d.Pages),
		"method", string(dr.Method),
		"matches", len(dr.Matches))

	if !r.combined {
		mp := r.ws.MatrixPath(d.Name, r.stamp)
		if err := r.writer.WriteDocument(mp, d.Name, dr.Matches); err != nil {
			r.logger.Error("matrix failed", "doc", d.Name, "error", err)
			dr.Status = StatusFailed
			dr.Err = err
			return dr
		}
		dr.MatrixPath = mp
	}

	var annotateErr error
	if len(dr.Matches) > 0 {
		out := r.ws.AnnotatedPath(d.Name, r.stamp, string(d.Format))
		dr.Annotation, annotateErr = r.annotator.Annotate(d, dr.Matches, out)
		if annotateErr != nil {
			r.logger.Error("annotation failed", "doc", d.Name, "error", annotateErr)
		}
	}

	switch {
	case annotateErr != nil:
		dr.Status = StatusPartial
		dr.Err = annotateErr
	case len(stats.PagesFailed) > 0 || len(dr.Annotation.PageErrors) > 0:
		dr.Status = StatusPartial
	default:
		dr.Status = StatusSuccess
	}
	return dr
}

func combinedMode(mode string) (bool, error) {
	switch mode {
	case "", "per-document":
		return false, nil
	case "combined":
		return true, nil
	default:
		return false, fmt.Errorf("unknown matrix aggregation %q", mode)
	}
}

func familyPatterns(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Matcher.Families))
	for name, f := range cfg.Matcher.Families {
		out[name] = f.Pattern
	}
	return out
}

func colorMap(cfg *config.Config) map[ruledb.Classification]string {
	c := cfg.Matrix.Colors
	return map[ruledb.Classification]string{
		ruledb.ClassOK:          c.OK,
		ruledb.ClassConditional: c.Conditional,
		ruledb.ClassRemove:      c.Remove,
		ruledb.ClassUnknown:     c.Unknown,
	}
}

func countStatus(docs []DocResult, s Status) int {
	n := 0
	for _, d := range docs {
		if d.Status == s {
			n++
		}
	}
	return n
}
