// Package annotate writes highlighted copies of reviewed documents.
// PDF copies gain highlight annotations through an incremental update
// appended to the original bytes; DOCX copies get run-level highlight
// shading spliced into word/document.xml. Neither path touches the
// source text.
package annotate

import (
	"fmt"
	"log/slog"

	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/matcher"
	"github.com/redlinehq/redline/internal/ruledb"
)

// PageError records a page whose highlights could not be written. The
// rest of the document's annotations still land.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Result reports what an annotation pass produced.
type Result struct {
	// Path is the written copy, empty when no highlight applied.
	Path       string
	Highlights int
	Skipped    int // regions dropped for degenerate geometry
	PageErrors []PageError
}

// Annotator produces highlighted document copies.
type Annotator struct {
	// Colors maps classifications to RGB hex highlight colors for PDF
	// annotations. A missing entry falls back to yellow.
	Colors map[ruledb.Classification]string

	// InflateMargin is the maximum number of points an OCR-derived
	// highlight grows on each side. The growth scales with how
	// uncertain the recognition was.
	InflateMargin float64

	Logger *slog.Logger
}

// Annotate writes a highlighted copy of d to outPath. The original
// file is never modified. When no highlight could be placed, nothing
// is written and Result.Path stays empty.
func (a *Annotator) Annotate(d *doc.Document, matches []matcher.Match, outPath string) (Result, error) {
	switch d.Format {
	case doc.FormatPDF:
		return a.annotatePDF(d, matches, outPath)
	case doc.FormatDOCX:
		return a.annotateDOCX(d, matches, outPath)
	default:
		return Result{}, fmt.Errorf("no annotator for format %q", d.Format)
	}
}

func (a *Annotator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// regionBox is the page-space rectangle a region's highlight covers.
// OCR boxes grow with recognition uncertainty before clamping, since
// recognized geometry tends to undershoot the inked area.
func (a *Annotator) regionBox(r matcher.Region, page *doc.Page) doc.BBox {
	b := r.Box
	if r.OCR {
		b = b.Expand((1 - r.Confidence) * a.InflateMargin)
	}
	return b.Clamp(page.Width, page.Height)
}
