package annotate

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/matcher"
)

// highlightTag is the run property spliced into highlighted runs. Word
// highlighting uses a fixed named palette, so DOCX highlights are
// always yellow regardless of classification.
const highlightTag = `<w:highlight w:val="yellow"/>`

// annotateDOCX writes a copy of the archive with highlight shading
// spliced into word/document.xml. Every other entry is copied without
// recompression, and the document text survives byte for byte.
func (a *Annotator) annotateDOCX(d *doc.Document, matches []matcher.Match, outPath string) (Result, error) {
	var res Result

	needles := matchNeedles(matches)
	if len(needles) == 0 {
		return res, nil
	}

	zr, err := zip.OpenReader(d.Path)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", d.Path, err)
	}
	defer zr.Close()

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err == nil {
			docXML, err = io.ReadAll(rc)
			rc.Close()
		}
		if err != nil {
			return res, fmt.Errorf("failed to read document.xml: %w", err)
		}
		break
	}
	if docXML == nil {
		return res, errors.New("missing word/document.xml")
	}

	rewritten, found := highlightDocumentXML(docXML, needles)
	res.Highlights = found
	if found < len(matches) {
		a.logger().Warn("some matches could not be located for highlighting",
			"doc", d.Name, "matches", len(matches), "highlighted", found)
	}
	if found == 0 {
		return res, nil
	}

	if err := writeDocx(&zr.Reader, rewritten, outPath); err != nil {
		return res, err
	}
	res.Path = outPath
	a.logger().Info("annotated document",
		"doc", d.Name, "output", outPath, "highlights", found)
	return res, nil
}

// matchNeedles returns the distinct matched strings, longest first so
// a short code never claims the inside of a longer one.
func matchNeedles(matches []matcher.Match) []string {
	seen := make(map[string]bool)
	needles := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Raw == "" || seen[m.Raw] {
			continue
		}
		seen[m.Raw] = true
		needles = append(needles, m.Raw)
	}
	sort.SliceStable(needles, func(i, j int) bool {
		if len(needles[i]) != len(needles[j]) {
			return len(needles[i]) > len(needles[j])
		}
		return needles[i] < needles[j]
	})
	return needles
}

// writeDocx copies the archive to outPath, swapping in the rewritten
// document part.
func writeDocx(zr *zip.Reader, documentXML []byte, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate})
			if err == nil {
				_, err = w.Write(documentXML)
			}
			if err != nil {
				out.Close()
				return fmt.Errorf("failed to write document.xml: %w", err)
			}
			continue
		}
		raw, err := f.OpenRaw()
		if err == nil {
			header := f.FileHeader
			var w io.Writer
			w, err = zw.CreateRaw(&header)
			if err == nil {
				_, err = io.Copy(w, raw)
			}
		}
		if err != nil {
			out.Close()
			return fmt.Errorf("failed to copy %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finish %s: %w", outPath, err)
	}
	return out.Close()
}

// highlightDocumentXML rewrites every paragraph whose text contains
// one of the needles and reports how many occurrences were
// highlighted. Text content is preserved exactly.
func highlightDocumentXML(docXML []byte, needles []string) ([]byte, int) {
	var out bytes.Buffer
	pos := 0
	total := 0
	for {
		para, ok := findElement(docXML, "w:p", pos)
		if !ok {
			break
		}
		out.Write(docXML[pos:para.start])
		replaced, n := highlightParagraph(docXML[para.start:para.end], needles)
		out.Write(replaced)
		total += n
		pos = para.end
	}
	out.Write(docXML[pos:])
	return out.Bytes(), total
}

// highlightParagraph rewrites one paragraph element.
func highlightParagraph(para []byte, needles []string) ([]byte, int) {
	runs := scanRuns(para)
	if len(runs) == 0 {
		return para, 0
	}
	text, segs := paragraphText(para, runs)
	if len(segs) == 0 {
		return para, 0
	}
	occs := findOccurrences(text, needles)
	if len(occs) == 0 {
		return para, 0
	}
	edits := runEdits(segs, runs, occs)

	var out bytes.Buffer
	pos := 0
	for ri, run := range runs {
		ed := edits[ri]
		if ed == nil {
			continue
		}
		out.Write(para[pos:run.elem.start])
		out.Write(rebuildRun(para, run, ed))
		pos = run.elem.end
	}
	out.Write(para[pos:])
	return out.Bytes(), len(occs)
}

// element is the byte layout of one XML element. The content range is
// empty for self-closing tags.
type element struct {
	start, end   int
	contentStart int
	contentEnd   int
}

// runLayout is the byte layout of one w:r element.
type runLayout struct {
	elem   element
	rpr    element
	hasRPr bool
	tokens []runToken
}

// runToken is one text node or whitespace element inside a run, in
// document order.
type runToken struct {
	text     element
	sentinel byte // 0 for text nodes
}

// seg ties a slice of the assembled paragraph text back to one text
// node's bytes.
type seg struct {
	run       int
	textStart int // offset into the assembled paragraph text
	length    int
}

// runEdit is the highlighting work owed to one run.
type runEdit struct {
	whole  bool     // highlight the run as a unit
	ranges [][2]int // content-local byte ranges of its single text node
}

func scanRuns(para []byte) []runLayout {
	var runs []runLayout
	pos := 0
	for {
		r, ok := findElement(para, "w:r", pos)
		if !ok {
			break
		}
		lay := runLayout{elem: r}
		if rpr, ok := findElement(para, "w:rPr", r.contentStart); ok && rpr.end <= r.contentEnd {
			lay.rpr, lay.hasRPr = rpr, true
		}
		lay.tokens = scanRunTokens(para, r.contentStart, r.contentEnd)
		runs = append(runs, lay)
		pos = r.end
	}
	return runs
}

// scanRunTokens lists a run's text nodes and whitespace elements in
// document order. Tabs and breaks become barrier characters in the
// assembled text so a code never appears to span one.
func scanRunTokens(para []byte, from, to int) []runToken {
	names := []struct {
		name     string
		sentinel byte
	}{
		{"w:t", 0},
		{"w:tab", '\t'},
		{"w:br", '\n'},
		{"w:cr", '\n'},
	}
	var tokens []runToken
	pos := from
	for pos < to {
		var best element
		var kind byte
		found := false
		for _, n := range names {
			el, ok := findElement(para, n.name, pos)
			if !ok || el.start >= to {
				continue
			}
			if !found || el.start < best.start {
				best, kind, found = el, n.sentinel, true
			}
		}
		if !found {
			break
		}
		tokens = append(tokens, runToken{text: best, sentinel: kind})
		pos = best.end
	}
	return tokens
}

// paragraphText assembles the paragraph's text node contents in
// document order, with barrier characters standing in for tabs and
// breaks.
func paragraphText(para []byte, runs []runLayout) (string, []seg) {
	var sb strings.Builder
	var segs []seg
	for ri, run := range runs {
		for _, tok := range run.tokens {
			if tok.sentinel != 0 {
				sb.WriteByte(tok.sentinel)
				continue
			}
			content := para[tok.text.contentStart:tok.text.contentEnd]
			segs = append(segs, seg{run: ri, textStart: sb.Len(), length: len(content)})
			sb.Write(content)
		}
	}
	return sb.String(), segs
}

// findOccurrences claims non-overlapping needle occurrences, longest
// needles first.
func findOccurrences(text string, needles []string) [][2]int {
	claimed := make([]bool, len(text))
	var occs [][2]int
	for _, needle := range needles {
		from := 0
		for {
			i := strings.Index(text[from:], needle)
			if i < 0 {
				break
			}
			i += from
			end := i + len(needle)
			free := true
			for k := i; k < end; k++ {
				if claimed[k] {
					free = false
					break
				}
			}
			if !free {
				from = i + 1
				continue
			}
			for k := i; k < end; k++ {
				claimed[k] = true
			}
			occs = append(occs, [2]int{i, end})
			from = end
		}
	}
	sort.Slice(occs, func(i, j int) bool { return occs[i][0] < occs[j][0] })
	return occs
}

// runEdits distributes occurrences over the runs they touch. Runs with
// several text nodes are highlighted whole, since splitting one would
// reorder the remainder.
func runEdits(segs []seg, runs []runLayout, occs [][2]int) map[int]*runEdit {
	edits := make(map[int]*runEdit)
	for _, occ := range occs {
		for _, sg := range segs {
			s := max(occ[0], sg.textStart)
			e := min(occ[1], sg.textStart+sg.length)
			if s >= e {
				continue
			}
			ed := edits[sg.run]
			if ed == nil {
				ed = &runEdit{}
				edits[sg.run] = ed
			}
			if textNodeCount(runs[sg.run]) != 1 {
				ed.whole = true
				continue
			}
			ed.ranges = append(ed.ranges, [2]int{s - sg.textStart, e - sg.textStart})
		}
	}
	return edits
}

func textNodeCount(run runLayout) int {
	n := 0
	for _, tok := range run.tokens {
		if tok.sentinel == 0 {
			n++
		}
	}
	return n
}

// rebuildRun returns the replacement bytes for one run. Partial
// highlights split the run's text node into alternating plain and
// highlighted runs that each inherit the original properties.
func rebuildRun(para []byte, run runLayout, ed *runEdit) []byte {
	openTag := para[run.elem.start:run.elem.contentStart]
	var rprBytes []byte
	if run.hasRPr {
		rprBytes = para[run.rpr.start:run.rpr.end]
	}

	var out bytes.Buffer
	writeRun := func(props, inner []byte) {
		out.Write(openTag)
		out.Write(props)
		out.Write(inner)
		out.WriteString("</w:r>")
	}

	if ed.whole {
		out.Write(openTag)
		if run.hasRPr {
			out.Write(para[run.elem.contentStart:run.rpr.start])
			out.Write(withHighlight(rprBytes))
			out.Write(para[run.rpr.end:run.elem.contentEnd])
		} else {
			out.Write(withHighlight(nil))
			out.Write(para[run.elem.contentStart:run.elem.contentEnd])
		}
		out.WriteString("</w:r>")
		return out.Bytes()
	}

	var textNode element
	for _, tok := range run.tokens {
		if tok.sentinel == 0 {
			textNode = tok.text
			break
		}
	}
	content := para[textNode.contentStart:textNode.contentEnd]

	// Run content around the text node, minus the properties, which
	// every emitted run carries its own copy of.
	var preExtra []byte
	if run.hasRPr {
		preExtra = append(preExtra, para[run.elem.contentStart:run.rpr.start]...)
		preExtra = append(preExtra, para[run.rpr.end:textNode.start]...)
	} else {
		preExtra = para[run.elem.contentStart:textNode.start]
	}
	post := para[textNode.end:run.elem.contentEnd]

	sort.Slice(ed.ranges, func(i, j int) bool { return ed.ranges[i][0] < ed.ranges[j][0] })

	type piece struct {
		text []byte
		hl   bool
	}
	var pieces []piece
	cur := 0
	for _, r := range ed.ranges {
		if r[0] > cur {
			pieces = append(pieces, piece{text: content[cur:r[0]]})
		}
		pieces = append(pieces, piece{text: content[r[0]:r[1]], hl: true})
		cur = r[1]
	}
	if cur < len(content) {
		pieces = append(pieces, piece{text: content[cur:]})
	}

	for i, pc := range pieces {
		props := rprBytes
		if pc.hl {
			props = withHighlight(rprBytes)
		}
		inner := textNodeBytes(pc.text)
		if i == 0 {
			if pc.hl {
				if len(preExtra) > 0 {
					writeRun(rprBytes, preExtra)
				}
			} else {
				inner = append(append([]byte{}, preExtra...), inner...)
			}
		}
		if i == len(pieces)-1 && !pc.hl {
			inner = append(inner, post...)
		}
		writeRun(props, inner)
	}
	if len(pieces) > 0 && pieces[len(pieces)-1].hl && len(post) > 0 {
		writeRun(rprBytes, post)
	}
	return out.Bytes()
}

func textNodeBytes(text []byte) []byte {
	var b bytes.Buffer
	b.WriteString(`<w:t xml:space="preserve">`)
	b.Write(text)
	b.WriteString(`</w:t>`)
	return b.Bytes()
}

// withHighlight returns run properties carrying the highlight tag.
func withHighlight(rpr []byte) []byte {
	if len(rpr) == 0 {
		return []byte("<w:rPr>" + highlightTag + "</w:rPr>")
	}
	if bytes.Contains(rpr, []byte("<w:highlight")) {
		return rpr
	}
	i := bytes.LastIndex(rpr, []byte("</w:rPr>"))
	if i < 0 {
		// Self-closing <w:rPr/>.
		return []byte("<w:rPr>" + highlightTag + "</w:rPr>")
	}
	out := make([]byte, 0, len(rpr)+len(highlightTag))
	out = append(out, rpr[:i]...)
	out = append(out, highlightTag...)
	out = append(out, rpr[i:]...)
	return out
}

func tagDelim(c byte) bool {
	return c == '>' || c == ' ' || c == '/' || c == '\t' || c == '\r' || c == '\n'
}

// findElement locates the next <name> element at or after from. The
// close scan tracks nesting depth, since word-processing XML nests
// paragraphs and runs through drawings and change records. Matching is
// byte level and assumes attribute values never contain '>'.
func findElement(data []byte, name string, from int) (element, bool) {
	openTok := []byte("<" + name)
	closeTok := []byte("</" + name + ">")

	start := -1
	for {
		i := bytes.Index(data[from:], openTok)
		if i < 0 {
			return element{}, false
		}
		i += from
		after := i + len(openTok)
		if after < len(data) && tagDelim(data[after]) {
			start = i
			break
		}
		from = i + 1
	}

	gt := bytes.IndexByte(data[start:], '>')
	if gt < 0 {
		return element{}, false
	}
	gt += start
	if data[gt-1] == '/' {
		return element{start: start, end: gt + 1, contentStart: gt + 1, contentEnd: gt + 1}, true
	}

	depth := 1
	pos := gt + 1
	for {
		ic := bytes.Index(data[pos:], closeTok)
		if ic < 0 {
			return element{}, false
		}
		ic += pos

		// Nested opens of the same element push the matching close
		// further out.
		scan := pos
		for scan < ic {
			io := bytes.Index(data[scan:ic], openTok)
			if io < 0 {
				break
			}
			io += scan
			after := io + len(openTok)
			if after >= len(data) || !tagDelim(data[after]) {
				scan = io + 1
				continue
			}
			tagEnd := bytes.IndexByte(data[io:], '>')
			if tagEnd < 0 {
				return element{}, false
			}
			tagEnd += io
			if data[tagEnd-1] != '/' {
				depth++
			}
			scan = tagEnd + 1
		}

		depth--
		pos = ic + len(closeTok)
		if depth == 0 {
			return element{start: start, end: pos, contentStart: gt + 1, contentEnd: ic}, true
		}
	}
}
