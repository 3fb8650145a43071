// Package doc defines the positioned-text document model shared by the
// loaders, the OCR engine, the clause matcher, and the annotators.
// This package has no dependencies on other redline packages to avoid
// import cycles.
package doc

import (
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Format identifies the on-disk file format of a source document.
type Format string

const (
	// FormatPDF is a PDF file.
	FormatPDF Format = "pdf"
	// FormatDOCX is an Office Open XML word-processing file.
	FormatDOCX Format = "docx"
)

// Method records how text was obtained.
type Method string

const (
	// MethodNative means the text came from the document's own text layer.
	MethodNative Method = "native"
	// MethodOCR means the text was recognized from a rasterized page image.
	MethodOCR Method = "ocr"
	// MethodMixed marks documents whose pages combine both. It never
	// appears on an individual span.
	MethodMixed Method = "mixed"
)

// PageStatus describes how far extraction got on a single page.
type PageStatus string

const (
	// PageExtracted means the page has usable positioned text.
	PageExtracted PageStatus = "extracted"
	// PageNeedsOCR means the text layer was absent or too sparse and
	// the page is waiting for OCR.
	PageNeedsOCR PageStatus = "needs_ocr"
	// PageOCRIncomplete means the text layer was too sparse and OCR
	// could not recover the page either.
	PageOCRIncomplete PageStatus = "ocr_incomplete"
)

// SpaceGapRatio is the fraction of a span's height that a horizontal
// gap must reach before a space is assumed between two adjacent spans.
// Half the width of a typical space character at the same size.
const SpaceGapRatio = 0.125

// Style carries what little formatting metadata the extractors can
// recover. PDF spans get the font name and size; OCR and DOCX spans
// usually leave it empty.
type Style struct {
	Font   string
	Size   float64
	Bold   bool
	Italic bool
}

// Span is a run of text with a position. Spans are the atomic unit the
// matcher and the annotators work on: every clause hit maps back to a
// range of spans, and every highlight is drawn from span boxes.
type Span struct {
	Text       string
	Box        BBox
	Style      Style
	Method     Method
	Confidence float64 // 1.0 for text-layer spans, engine confidence in [0,1] for OCR

	// LowConfidence marks OCR spans whose confidence fell below the
	// configured floor. They stay in the page but are surfaced as
	// warnings in the run report.
	LowConfidence bool
}

// Page is a single page of positioned text. Width and Height are in
// points. Spans are kept in insertion order; use Lines to group them
// into visual lines.
type Page struct {
	Number int // 1-based
	Width  float64
	Height float64
	Status PageStatus
	Spans  []Span

	// Raster is the rendered page image, kept only when OCR ran.
	Raster []byte
}

// AddSpan appends a span to the page.
func (p *Page) AddSpan(s Span) {
	p.Spans = append(p.Spans, s)
}

// CharCount returns the total number of runes across the page's spans,
// not counting whitespace.
func (p *Page) CharCount() int {
	n := 0
	for _, s := range p.Spans {
		for _, r := range s.Text {
			if !isSpace(r) {
				n++
			}
		}
	}
	return n
}

// Line is a horizontal run of spans that sit on the same visual line,
// ordered left to right.
type Line struct {
	Spans []Span
}

// Box returns the union of the line's span boxes.
func (l Line) Box() BBox {
	if len(l.Spans) == 0 {
		return BBox{}
	}
	box := l.Spans[0].Box
	for _, s := range l.Spans[1:] {
		box = box.Union(s.Box)
	}
	return box
}

// SpanRef ties one byte of an assembled line back to its origin.
type SpanRef struct {
	Span int // index into Line.Spans, -1 for an inserted space
	Rune int // rune ordinal within that span's text
}

// Assemble joins the line's spans into a single string, inserting a
// space between neighbours when the horizontal gap between them looks
// like a word break, and returns a per-byte reference back to the
// originating span and rune.
func (l Line) Assemble() (string, []SpanRef) {
	var sb strings.Builder
	var refs []SpanRef
	for i, s := range l.Spans {
		if i > 0 && spaceBetween(l.Spans[i-1], s) {
			sb.WriteByte(' ')
			refs = append(refs, SpanRef{Span: -1})
		}
		runeIdx := 0
		for _, r := range s.Text {
			sb.WriteRune(r)
			for k := 0; k < utf8.RuneLen(r); k++ {
				refs = append(refs, SpanRef{Span: i, Rune: runeIdx})
			}
			runeIdx++
		}
	}
	return sb.String(), refs
}

// Text joins the line's spans into a single string. A space is
// inserted between neighbours when the horizontal gap between them
// looks like a word break.
func (l Line) Text() string {
	text, _ := l.Assemble()
	return text
}

// spaceBetween reports whether a word break separates two horizontally
// adjacent spans. Explicit whitespace at the boundary wins; otherwise
// the gap is compared against SpaceGapRatio of the span height.
func spaceBetween(prev, next Span) bool {
	if r, _ := utf8.DecodeLastRuneInString(prev.Text); isSpace(r) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(next.Text); isSpace(r) {
		return false
	}
	gap := next.Box.Left() - prev.Box.Right()
	h := prev.Box.Height
	if next.Box.Height > h {
		h = next.Box.Height
	}
	return gap >= h*SpaceGapRatio
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Lines groups the page's spans into visual lines. Spans whose bottom
// edges sit within half a span height of each other land on the same
// line. Lines come back top to bottom, spans within a line left to
// right. Ties keep insertion order.
func (p *Page) Lines() []Line {
	if len(p.Spans) == 0 {
		return nil
	}

	spans := make([]Span, len(p.Spans))
	copy(spans, p.Spans)
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Box.Bottom() > spans[j].Box.Bottom()
	})

	var lines []Line
	current := Line{Spans: []Span{spans[0]}}
	refY := spans[0].Box.Bottom()
	refH := spans[0].Box.Height

	for _, s := range spans[1:] {
		tol := refH * 0.5
		if s.Box.Height*0.5 > tol {
			tol = s.Box.Height * 0.5
		}
		if refY-s.Box.Bottom() <= tol {
			current.Spans = append(current.Spans, s)
			continue
		}
		lines = append(lines, current)
		current = Line{Spans: []Span{s}}
		refY = s.Box.Bottom()
		refH = s.Box.Height
	}
	lines = append(lines, current)

	for i := range lines {
		sort.SliceStable(lines[i].Spans, func(a, b int) bool {
			return lines[i].Spans[a].Box.Left() < lines[i].Spans[b].Box.Left()
		})
	}
	return lines
}

// Text assembles the page's text in reading order, one visual line per
// output line.
func (p *Page) Text() string {
	lines := p.Lines()
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l.Text())
	}
	return strings.Join(parts, "\n")
}

// Document is a fully loaded source file.
type Document struct {
	ID     string
	Name   string // base name without extension
	Path   string
	Format Format
	Pages  []*Page
}

// New creates an empty document for the given source path.
func New(path string, format Format) *Document {
	base := filepath.Base(path)
	return &Document{
		ID:     uuid.NewString(),
		Name:   strings.TrimSuffix(base, filepath.Ext(base)),
		Path:   path,
		Format: format,
	}
}

// AddPage appends an empty page with the next page number.
func (d *Document) AddPage(width, height float64) *Page {
	p := &Page{
		Number: len(d.Pages) + 1,
		Width:  width,
		Height: height,
		Status: PageExtracted,
	}
	d.Pages = append(d.Pages, p)
	return p
}

// PageByNumber returns the page with the given 1-based number, or nil
// when the document has no such page.
func (d *Document) PageByNumber(n int) *Page {
	if n < 1 || n > len(d.Pages) {
		return nil
	}
	return d.Pages[n-1]
}

// Method reports how the document's text was obtained: native when
// every span came from a text layer, ocr when every span was
// recognized, mixed when pages combine both.
func (d *Document) Method() Method {
	var native, ocr bool
	for _, p := range d.Pages {
		for _, s := range p.Spans {
			if s.Method == MethodOCR {
				ocr = true
			} else {
				native = true
			}
		}
	}
	switch {
	case native && ocr:
		return MethodMixed
	case ocr:
		return MethodOCR
	default:
		return MethodNative
	}
}

// NeedsOCR lists the pages still waiting for OCR.
func (d *Document) NeedsOCR() []*Page {
	var pages []*Page
	for _, p := range d.Pages {
		if p.Status == PageNeedsOCR {
			pages = append(pages, p)
		}
	}
	return pages
}

// Text assembles the whole document's text, pages separated by blank
// lines.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text())
	}
	return strings.Join(parts, "\n\n")
}
