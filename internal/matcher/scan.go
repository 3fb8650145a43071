package matcher

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/redlinehq/redline/internal/doc"
)

// line is one assembled visual line with the bookkeeping needed to map
// byte ranges back to span geometry.
type line struct {
	page  *doc.Page
	box   doc.BBox
	text  string
	refs  []doc.SpanRef
	spans []doc.Span
}

// assembleLines flattens the document into assembled lines in reading
// order.
func assembleLines(d *doc.Document) []line {
	var lines []line
	for _, p := range d.Pages {
		for _, pl := range p.Lines() {
			text, refs := pl.Assemble()
			lines = append(lines, line{
				page:  p,
				box:   pl.Box(),
				text:  text,
				refs:  refs,
				spans: pl.Spans,
			})
		}
	}
	return lines
}

// hit is one raw grammar hit pinned to byte ranges on one or two
// assembled lines.
type hit struct {
	family   string
	raw      string
	segments []segment
}

// segment is a byte range on one assembled line.
type segment struct {
	line       int
	start, end int
}

// width returns the total matched byte count across segments.
func (h hit) width() int {
	n := 0
	for _, s := range h.segments {
		n += s.end - s.start
	}
	return n
}

// scan runs every family grammar over each line, then again over each
// joinable pair of adjacent lines to catch numbers split by a wrap.
func (m *Matcher) scan(lines []line) []hit {
	var hits []hit
	for li, ln := range lines {
		for _, f := range m.families {
			for _, loc := range f.re.FindAllStringIndex(ln.text, -1) {
				hits = append(hits, hit{
					family:   f.name,
					raw:      ln.text[loc[0]:loc[1]],
					segments: []segment{{line: li, start: loc[0], end: loc[1]}},
				})
			}
		}
	}

	for i := 0; i+1 < len(lines); i++ {
		if !m.joinable(lines[i], lines[i+1]) {
			continue
		}
		hits = append(hits, m.scanJoined(lines, i)...)
	}
	return hits
}

// joinable reports whether a clause number may wrap from a to b: the
// next line on the same page within the vertical tolerance, or the
// first line of the page that follows.
func (m *Matcher) joinable(a, b line) bool {
	if a.page.Number != b.page.Number {
		return b.page.Number == a.page.Number+1
	}
	h := a.box.Height
	if b.box.Height > h {
		h = b.box.Height
	}
	gap := a.box.Bottom() - b.box.Top()
	return gap <= h*m.wrapTolerance()
}

func (m *Matcher) wrapTolerance() float64 {
	if m.tolerance > 0 {
		return m.tolerance
	}
	return defaultWrapTolerance
}

// scanJoined concatenates the trimmed tail of line i with the trimmed
// head of line i+1 and keeps only matches that cross the seam. Matches
// on one side alone are the single-line scan's business.
func (m *Matcher) scanJoined(lines []line, i int) []hit {
	a, b := lines[i], lines[i+1]
	aText := strings.TrimRight(a.text, " \t")
	bLead := len(b.text) - len(strings.TrimLeft(b.text, " \t"))
	joined := aText + b.text[bLead:]
	boundary := len(aText)

	var hits []hit
	for _, f := range m.families {
		for _, loc := range f.re.FindAllStringIndex(joined, -1) {
			if loc[0] >= boundary || loc[1] <= boundary {
				continue
			}
			hits = append(hits, hit{
				family: f.name,
				raw:    joined[loc[0]:loc[1]],
				segments: []segment{
					{line: i, start: loc[0], end: boundary},
					{line: i + 1, start: bLead, end: loc[1] - boundary + bLead},
				},
			})
		}
	}
	return hits
}

// dedupe resolves overlapping hits. Wider matches claim their byte
// ranges first, so a joined number beats the fragment matched on one
// of its lines, and any later hit touching a claimed range is dropped.
// Ties break by position, then family name, keeping the result stable.
func dedupe(hits []hit) []hit {
	order := make([]hit, len(hits))
	copy(order, hits)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if aw, bw := a.width(), b.width(); aw != bw {
			return aw > bw
		}
		as, bs := a.segments[0], b.segments[0]
		if as.line != bs.line {
			return as.line < bs.line
		}
		if as.start != bs.start {
			return as.start < bs.start
		}
		return a.family < b.family
	})

	claimed := make(map[int][]segment)
	kept := make([]hit, 0, len(order))
	for _, h := range order {
		if overlapsClaimed(claimed, h) {
			continue
		}
		for _, s := range h.segments {
			claimed[s.line] = append(claimed[s.line], s)
		}
		kept = append(kept, h)
	}
	return kept
}

func overlapsClaimed(claimed map[int][]segment, h hit) bool {
	for _, s := range h.segments {
		for _, c := range claimed[s.line] {
			if s.start < c.end && c.start < s.end {
				return true
			}
		}
	}
	return false
}

// regions maps a byte range of the assembled line to page-space boxes,
// one per contributing span, along with the spans themselves. Join
// spaces inserted during assembly carry no geometry and are skipped.
func (ln line) regions(seg segment) ([]Region, []doc.Span) {
	var (
		regions []Region
		spans   []doc.Span
	)
	i := seg.start
	for i < seg.end {
		ref := ln.refs[i]
		if ref.Span < 0 {
			i++
			continue
		}
		first, last := ref.Rune, ref.Rune
		for i < seg.end && ln.refs[i].Span == ref.Span {
			last = ln.refs[i].Rune
			i++
		}
		s := ln.spans[ref.Span]
		regions = append(regions, Region{
			Page:       ln.page.Number,
			Box:        runeSlice(s, first, last),
			OCR:        s.Method == doc.MethodOCR,
			Confidence: s.Confidence,
		})
		spans = append(spans, s)
	}
	return regions, spans
}

// runeSlice returns the horizontal slice of a span's box covering
// runes first through last. Glyph widths are taken as uniform, close
// enough for highlight placement.
func runeSlice(s doc.Span, first, last int) doc.BBox {
	total := utf8.RuneCountInString(s.Text)
	if total == 0 {
		return s.Box
	}
	w := s.Box.Width / float64(total)
	x0 := s.Box.X + w*float64(first)
	x1 := s.Box.X + w*float64(last+1)
	return doc.NewBBox(x0, s.Box.Y, x1-x0, s.Box.Height)
}
