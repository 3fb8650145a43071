package loader

import (
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/redlinehq/redline/internal/doc"
)

// loadPDF parses the cross-reference table once and interprets each
// page's content stream. A page whose content cannot be read, or whose
// text layer is thinner than DensityThreshold, is marked for OCR; only
// a file-level parse failure aborts the load.
func (l *Loader) loadPDF(path string) (*doc.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return nil, &CorruptDocumentError{Path: path, Err: err}
	}

	d := doc.New(path, doc.FormatPDF)

	dims, err := ctx.PageDims()
	if err != nil {
		l.Logger.Warn("page dimensions unavailable, assuming US Letter",
			"path", path, "error", err)
		dims = nil
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		w, h := letterWidth, letterHeight
		if pageNr-1 < len(dims) && dims[pageNr-1].Width > 0 && dims[pageNr-1].Height > 0 {
			w, h = dims[pageNr-1].Width, dims[pageNr-1].Height
		}
		page := d.AddPage(w, h)

		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			l.Logger.Warn("page content unreadable, deferring to OCR",
				"path", path, "page", pageNr, "error", err)
			page.Status = doc.PageNeedsOCR
			continue
		}
		if r == nil {
			// No content stream at all, typically a scanned image page.
			page.Status = doc.PageNeedsOCR
			continue
		}

		data, err := io.ReadAll(r)
		if err != nil {
			l.Logger.Warn("page content unreadable, deferring to OCR",
				"path", path, "page", pageNr, "error", err)
			page.Status = doc.PageNeedsOCR
			continue
		}

		page.Spans = interpretContent(data)
		if page.CharCount() < l.DensityThreshold {
			page.Status = doc.PageNeedsOCR
		}
	}

	return d, nil
}
