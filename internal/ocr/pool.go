package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/redlinehq/redline/internal/doc"
)

// PageError records one page whose OCR could not complete.
type PageError struct {
	Page int
	Err  error
}

func (e PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e PageError) Unwrap() error { return e.Err }

// Stats summarizes one document's OCR pass. PagesFailed lists the
// page numbers from PageErrors for quick checks.
type Stats struct {
	PagesProcessed     int
	PagesFailed        []int
	PageErrors         []PageError
	Words              int
	LowConfidenceWords int
}

// Processor runs the OCR fallback over every page the loader marked
// needs_ocr. Pages are recognized concurrently up to Workers at a
// time; the pool is shared across every document the processor
// serves, so a run's total OCR concurrency stays bounded. A page that
// fails keeps whatever sparse text layer it had and is marked
// ocr_incomplete rather than sinking the document.
type Processor struct {
	Engine     Engine
	Rasterizer Rasterizer
	// DPI is the render resolution; zero falls back to 300.
	DPI       int
	Languages []string
	// ConfidenceFloor flags recognized words below it as low
	// confidence, on a 0-1 scale.
	ConfidenceFloor float64
	// Workers bounds concurrent page recognition; zero means one per
	// CPU.
	Workers int
	Logger  *slog.Logger

	once sync.Once
	sem  chan struct{}
}

// Process recognizes d's needs-ocr pages in place and reports what
// happened. The returned error is non-nil only when the context was
// canceled; per-page failures land in Stats.PagesFailed.
func (p *Processor) Process(ctx context.Context, d *doc.Document) (Stats, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var stats Stats
	pages := d.NeedsOCR()
	if len(pages) == 0 {
		return stats, nil
	}

	if c, ok := p.Rasterizer.(interface{ Check() error }); ok {
		if err := c.Check(); err != nil {
			logger.Warn("rasterizer unavailable, skipping ocr", "doc", d.Name, "error", err)
			for _, page := range pages {
				page.Status = doc.PageOCRIncomplete
				stats.PagesFailed = append(stats.PagesFailed, page.Number)
				stats.PageErrors = append(stats.PageErrors, PageError{Page: page.Number, Err: err})
			}
			return stats, nil
		}
	}

	type result struct {
		page  *doc.Page
		image []byte
		words []Word
		err   error
	}

	p.once.Do(func() { p.sem = make(chan struct{}, p.workers()) })
	results := make(chan result, len(pages))

	for _, page := range pages {
		p.sem <- struct{}{} // acquire
		go func(page *doc.Page) {
			defer func() { <-p.sem }() // release

			image, words, err := p.recognizePage(ctx, d.Path, page.Number)
			results <- result{page: page, image: image, words: words, err: err}
		}(page)
	}

	for range pages {
		r := <-results
		if r.err != nil {
			logger.Warn("page ocr failed", "doc", d.Name, "page", r.page.Number, "error", r.err)
			r.page.Status = doc.PageOCRIncomplete
			stats.PagesFailed = append(stats.PagesFailed, r.page.Number)
			stats.PageErrors = append(stats.PageErrors, PageError{Page: r.page.Number, Err: r.err})
			continue
		}

		p.apply(r.page, r.image, r.words)
		stats.PagesProcessed++
		stats.Words += len(r.page.Spans)
		for _, s := range r.page.Spans {
			if s.LowConfidence {
				stats.LowConfidenceWords++
			}
		}
	}
	sort.Ints(stats.PagesFailed)
	sort.Slice(stats.PageErrors, func(i, j int) bool {
		return stats.PageErrors[i].Page < stats.PageErrors[j].Page
	})

	return stats, ctx.Err()
}

func (p *Processor) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

func (p *Processor) dpi() int {
	if p.DPI > 0 {
		return p.DPI
	}
	return 300
}

func (p *Processor) recognizePage(ctx context.Context, pdfPath string, pageNumber int) ([]byte, []Word, error) {
	var (
		image []byte
		words []Word
	)
	err := retry.Do(
		func() error {
			var err error
			image, err = p.Rasterizer.RenderPage(ctx, pdfPath, pageNumber, p.dpi())
			if err != nil {
				return fmt.Errorf("render: %w", err)
			}
			res, err := p.Engine.Recognize(ctx, Input{
				ID:        fmt.Sprintf("%s#%d", filepath.Base(pdfPath), pageNumber),
				Image:     image,
				DPI:       p.dpi(),
				Languages: p.Languages,
			})
			if err != nil {
				return fmt.Errorf("recognize: %w", err)
			}
			words = res.Words
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(500*time.Millisecond),
	)
	return image, words, err
}

// apply converts word boxes from image pixels to page points and
// replaces whatever sparse text layer the page had. The rendered
// image sticks around so the annotator can place boxes against it.
func (p *Processor) apply(page *doc.Page, image []byte, words []Word) {
	scale := 72.0 / float64(p.dpi())
	spans := make([]doc.Span, 0, len(words))
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		// Image rows grow downward; page Y grows upward.
		box := doc.NewBBox(
			w.Bounds.X*scale,
			page.Height-(w.Bounds.Y+w.Bounds.Height)*scale,
			w.Bounds.Width*scale,
			w.Bounds.Height*scale,
		).Clamp(page.Width, page.Height)
		spans = append(spans, doc.Span{
			Text:          w.Text,
			Box:           box,
			Method:        doc.MethodOCR,
			Confidence:    w.Confidence,
			LowConfidence: w.Confidence < p.ConfidenceFloor,
		})
	}
	page.Spans = spans
	page.Raster = image
	page.Status = doc.PageExtracted
}
