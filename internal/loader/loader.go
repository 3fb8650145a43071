// Package loader reads solicitation documents into the positioned-text
// model. PDF pages keep their native geometry; DOCX files get a
// synthetic US-Letter layout so downstream stages can treat both
// formats alike.
package loader

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redlinehq/redline/internal/doc"
)

// ErrUnsupportedFormat is returned for files that are neither PDF nor
// DOCX.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// US Letter in points, used when a PDF page carries no MediaBox and as
// the synthetic page size for DOCX layout.
const (
	letterWidth  = 612.0
	letterHeight = 792.0
)

// CorruptDocumentError wraps a parse failure that makes a whole file
// unreadable. Page-level trouble never produces one; it marks the page
// for OCR instead.
type CorruptDocumentError struct {
	Path string
	Err  error
}

func (e *CorruptDocumentError) Error() string {
	return fmt.Sprintf("corrupt document %s: %v", e.Path, e.Err)
}

func (e *CorruptDocumentError) Unwrap() error { return e.Err }

// Loader reads documents into the doc model.
type Loader struct {
	// DensityThreshold is the minimum number of text-layer characters a
	// PDF page must carry to count as extracted. Pages below it are
	// marked PageNeedsOCR; any sparse spans stay on the page until OCR
	// replaces them.
	DensityThreshold int

	Logger *slog.Logger
}

// New creates a loader.
func New(densityThreshold int, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{DensityThreshold: densityThreshold, Logger: logger}
}

// Load reads the file at path into a document.
func (l *Loader) Load(path string) (*doc.Document, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case doc.FormatPDF:
		return l.loadPDF(path)
	case doc.FormatDOCX:
		return l.loadDOCX(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}
