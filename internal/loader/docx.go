package loader

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
)

// Synthetic DOCX layout. Word files have no fixed geometry, so lines
// are flowed onto US-Letter pages with one-inch margins.
const (
	docxMargin     = 72.0
	docxTextWidth  = 468.0
	docxTopY       = 750.0
	docxLineHeight = 14.0
	docxLineGap    = 4.0
)

// pageBreakRune separates content that Word renders on distinct pages.
const pageBreakRune = '\f'

// loadDOCX reads word/document.xml out of the OOXML archive and lays
// body paragraphs, then table rows, onto synthetic pages. Explicit page
// breaks and section boundaries start a fresh page.
func (l *Loader) loadDOCX(path string) (*doc.Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &CorruptDocumentError{Path: path, Err: err}
	}
	defer zr.Close()

	data, err := readZipFile(&zr.Reader, "word/document.xml")
	if err != nil {
		return nil, &CorruptDocumentError{Path: path, Err: err}
	}

	var parsed docxDocument
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, &CorruptDocumentError{Path: path, Err: fmt.Errorf("unmarshaling document.xml: %w", err)}
	}

	d := doc.New(path, doc.FormatDOCX)
	lay := &docxLayout{d: d}
	lay.newPage()

	if parsed.Body != nil {
		for _, p := range parsed.Body.Paragraphs {
			lay.placeParagraph(p)
		}
		for _, t := range parsed.Body.Tables {
			lay.placeTable(t)
		}
	}

	return d, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, errors.New("missing " + name)
}

// docxLayout flows text lines down a synthetic page.
type docxLayout struct {
	d    *doc.Document
	page *doc.Page
	y    float64
}

func (l *docxLayout) newPage() {
	l.page = l.d.AddPage(letterWidth, letterHeight)
	l.y = docxTopY
}

// placeLine puts one line of text on the current page, opening a new
// page when the cursor runs past the bottom margin.
func (l *docxLayout) placeLine(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if l.y < docxMargin {
		l.newPage()
	}
	l.page.AddSpan(doc.Span{
		Text:       text,
		Box:        doc.NewBBox(docxMargin, l.y, docxTextWidth, docxLineHeight),
		Method:     doc.MethodNative,
		Confidence: 1,
	})
	l.y -= docxLineHeight + docxLineGap
}

func (l *docxLayout) placeParagraph(p docxParagraph) {
	l.placeText(p.text())

	// A paragraph-level sectPr ends a section; following content
	// renders on a new page.
	if p.SectPr != nil {
		l.newPage()
	}
}

// placeText splits assembled paragraph text on break markers and lays
// out the resulting lines.
func (l *docxLayout) placeText(text string) {
	for i, chunk := range strings.Split(text, string(pageBreakRune)) {
		if i > 0 {
			l.newPage()
		}
		for _, line := range strings.Split(chunk, "\n") {
			l.placeLine(line)
		}
	}
}

// placeTable lays out each row as one line, cells joined by tabs. Word
// tables carry most of the clause matrices in solicitations, so rows
// must survive as joinable lines.
func (l *docxLayout) placeTable(t docxTable) {
	for _, row := range t.Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			var parts []string
			for _, p := range cell.Paragraphs {
				// Breaks inside cells flatten to spaces so the row
				// stays a single line.
				txt := strings.ReplaceAll(p.text(), string(pageBreakRune), " ")
				txt = strings.ReplaceAll(txt, "\n", " ")
				if txt != "" {
					parts = append(parts, txt)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		l.placeLine(strings.Join(cells, "\t"))
	}
}

// docxDocument mirrors the parts of word/document.xml the loader needs.
// Body paragraphs and tables unmarshal into separate slices, so tables
// are laid out after running text.
type docxDocument struct {
	XMLName xml.Name  `xml:"document"`
	Body    *docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
	Tables     []docxTable     `xml:"tbl"`
}

type docxParagraph struct {
	Runs       []docxRun       `xml:"r"`
	Hyperlinks []docxHyperlink `xml:"hyperlink"`
	SectPr     *docxSectPr     `xml:"pPr>sectPr"`
}

// text assembles the paragraph's visible text. Line breaks become
// newlines and page breaks become the break marker.
func (p docxParagraph) text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		sb.WriteString(r.text())
	}
	for _, h := range p.Hyperlinks {
		for _, r := range h.Runs {
			sb.WriteString(r.text())
		}
	}
	return sb.String()
}

type docxHyperlink struct {
	Runs []docxRun `xml:"r"`
}

type docxSectPr struct{}

type docxRun struct {
	Text   []docxText  `xml:"t"`
	Tabs   []docxTab   `xml:"tab"`
	Breaks []docxBreak `xml:"br"`
}

// text flattens a run. Element order within a run is not preserved by
// the field-per-slice mapping; generators emit breaks in their own
// runs, so text parts come first, then tabs, then breaks.
func (r docxRun) text() string {
	var parts []string
	for _, t := range r.Text {
		parts = append(parts, t.Value)
	}
	for range r.Tabs {
		parts = append(parts, "\t")
	}
	for _, br := range r.Breaks {
		if br.Type == "page" {
			parts = append(parts, string(pageBreakRune))
		} else {
			parts = append(parts, "\n")
		}
	}
	return strings.Join(parts, "")
}

type docxText struct {
	Value string `xml:",chardata"`
}

type docxTab struct{}

type docxBreak struct {
	Type string `xml:"type,attr"`
}

type docxTable struct {
	Rows []docxTableRow `xml:"tr"`
}

type docxTableRow struct {
	Cells []docxTableCell `xml:"tc"`
}

type docxTableCell struct {
	Paragraphs []docxParagraph `xml:"p"`
}
