package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/redlinehq/redline/internal/doc"
	"github.com/redlinehq/redline/internal/matcher"
)

// highlightOpacity is the stroke/fill opacity of PDF highlight
// annotations, light enough to keep the text underneath readable.
const highlightOpacity = 0.4

// annotFlagPrint makes the annotation survive printing.
const annotFlagPrint = 4

const fallbackColor = "FFFF00"

// annotatePDF appends highlight annotations to a copy of the document
// using a PDF incremental update. The output starts with the original
// file's exact bytes followed by the new and rewritten objects, so the
// source revision stays intact inside the copy.
func (a *Annotator) annotatePDF(d *doc.Document, matches []matcher.Match, outPath string) (Result, error) {
	var res Result

	original, err := os.ReadFile(d.Path)
	if err != nil {
		return res, fmt.Errorf("failed to read %s: %w", d.Path, err)
	}
	prev, err := lastStartXref(original)
	if err != nil {
		return res, fmt.Errorf("failed to locate xref in %s: %w", d.Path, err)
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", d.Path, err)
	}
	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	f.Close()
	if err != nil {
		return res, fmt.Errorf("failed to parse %s: %w", d.Path, err)
	}
	if ctx.Encrypt != nil {
		return res, errors.New("encrypted documents cannot be annotated")
	}

	pageRefs, err := collectPageRefs(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to walk page tree of %s: %w", d.Path, err)
	}

	byPage := a.pageAnnotations(d, matches, &res)
	if len(byPage) == 0 {
		return res, nil
	}

	u := newUpdate(original, maxObjNr(ctx))
	pages := make([]int, 0, len(byPage))
	for nr := range byPage {
		pages = append(pages, nr)
	}
	sort.Ints(pages)

	for _, nr := range pages {
		if nr < 1 || nr > len(pageRefs) {
			res.PageErrors = append(res.PageErrors, PageError{Page: nr, Err: errors.New("page not in page tree")})
			continue
		}
		if err := u.appendAnnotations(ctx, pageRefs[nr-1], byPage[nr]); err != nil {
			res.PageErrors = append(res.PageErrors, PageError{Page: nr, Err: err})
			continue
		}
		res.Highlights += len(byPage[nr])
	}
	if res.Highlights == 0 {
		return res, nil
	}

	if err := os.WriteFile(outPath, u.finish(ctx, prev), 0o644); err != nil {
		return res, fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	res.Path = outPath
	a.logger().Info("annotated document",
		"doc", d.Name,
		"output", outPath,
		"highlights", res.Highlights,
		"skipped", res.Skipped)
	return res, nil
}

// pageAnnotations groups the matches' regions by page and builds one
// highlight annotation per match and page. Degenerate regions are
// dropped and counted on res.
func (a *Annotator) pageAnnotations(d *doc.Document, matches []matcher.Match, res *Result) map[int][]types.Dict {
	byPage := make(map[int][]types.Dict)
	for _, m := range matches {
		pages := make(map[int][]doc.BBox)
		var order []int
		for _, r := range m.Regions {
			page := d.PageByNumber(r.Page)
			if page == nil {
				continue
			}
			b := a.regionBox(r, page)
			if !b.IsValid() {
				a.logger().Warn("skipping degenerate highlight box",
					"doc", d.Name, "code", m.Raw, "page", r.Page)
				res.Skipped++
				continue
			}
			if _, seen := pages[r.Page]; !seen {
				order = append(order, r.Page)
			}
			pages[r.Page] = append(pages[r.Page], b)
		}
		for _, nr := range order {
			byPage[nr] = append(byPage[nr], a.highlightDict(m, pages[nr]))
		}
	}
	return byPage
}

// highlightDict builds a single Highlight annotation covering the
// given boxes, one quadrilateral per box.
func (a *Annotator) highlightDict(m matcher.Match, boxes []doc.BBox) types.Dict {
	rect := boxes[0]
	quads := make([]float64, 0, len(boxes)*8)
	for _, b := range boxes {
		rect = rect.Union(b)
		quads = append(quads,
			b.Left(), b.Top(), b.Right(), b.Top(),
			b.Left(), b.Bottom(), b.Right(), b.Bottom())
	}

	label := fmt.Sprintf("%s [%s]", m.Raw, m.Classification.Label())
	if m.Title != "" {
		label += " " + m.Title
	}

	dict := types.Dict{
		"Type":       types.Name("Annot"),
		"Subtype":    types.Name("Highlight"),
		"Rect":       types.NewNumberArray(rect.Left(), rect.Bottom(), rect.Right(), rect.Top()),
		"QuadPoints": types.NewNumberArray(quads...),
		"CA":         types.Float(highlightOpacity),
		"F":          types.Integer(annotFlagPrint),
		"T":          types.StringLiteral("redline"),
		"Contents":   types.StringLiteral(escapeText(label)),
	}

	hex := a.Colors[m.Classification]
	if hex == "" {
		hex = fallbackColor
	}
	if r, g, b, ok := colorComponents(hex); ok {
		dict["C"] = types.NewNumberArray(r, g, b)
	}
	return dict
}

// collectPageRefs walks the page tree and returns the leaf references
// in page order.
func collectPageRefs(ctx *model.Context) ([]types.IndirectRef, error) {
	if ctx.Root == nil {
		return nil, errors.New("missing document catalog")
	}
	obj, err := ctx.Dereference(*ctx.Root)
	if err != nil {
		return nil, err
	}
	catalog, ok := obj.(types.Dict)
	if !ok {
		return nil, errors.New("catalog is not a dictionary")
	}
	pagesObj, found := catalog.Find("Pages")
	if !found {
		return nil, errors.New("catalog has no page tree")
	}
	rootRef, ok := pagesObj.(types.IndirectRef)
	if !ok {
		return nil, errors.New("page tree root is not a reference")
	}

	var refs []types.IndirectRef
	visited := make(map[int]bool)
	var walk func(ref types.IndirectRef) error
	walk = func(ref types.IndirectRef) error {
		nr := int(ref.ObjectNumber)
		if visited[nr] {
			return fmt.Errorf("page tree cycle at object %d", nr)
		}
		visited[nr] = true

		obj, err := ctx.Dereference(ref)
		if err != nil {
			return err
		}
		node, ok := obj.(types.Dict)
		if !ok {
			return fmt.Errorf("page tree node %d is not a dictionary", nr)
		}
		kidsObj, found := node.Find("Kids")
		if !found {
			refs = append(refs, ref)
			return nil
		}
		resolved, err := ctx.Dereference(kidsObj)
		if err != nil {
			return err
		}
		kids, ok := resolved.(types.Array)
		if !ok {
			return fmt.Errorf("Kids of object %d is not an array", nr)
		}
		for _, kid := range kids {
			kidRef, ok := kid.(types.IndirectRef)
			if !ok {
				return fmt.Errorf("kid of object %d is not a reference", nr)
			}
			if err := walk(kidRef); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootRef); err != nil {
		return nil, err
	}
	return refs, nil
}

func maxObjNr(ctx *model.Context) int {
	max := 0
	for nr := range ctx.Table {
		if nr > max {
			max = nr
		}
	}
	return max
}

// lastStartXref returns the offset recorded by the final startxref
// keyword, which the update's trailer must point back to.
func lastStartXref(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("no startxref keyword")
	}
	rest := data[idx+len("startxref"):]
	i := 0
	for i < len(rest) && (rest[i] == '\r' || rest[i] == '\n' || rest[i] == ' ') {
		i++
	}
	var offset int64
	digits := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		offset = offset*10 + int64(rest[i]-'0')
		digits++
		i++
	}
	if digits == 0 {
		return 0, errors.New("startxref has no offset")
	}
	return offset, nil
}

// colorComponents parses an RRGGBB hex color into 0..1 components.
func colorComponents(hex string) (r, g, b float64, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	var vals [3]float64
	for i := 0; i < 3; i++ {
		hi := hexDigit(hex[2*i])
		lo := hexDigit(hex[2*i+1])
		if hi < 0 || lo < 0 {
			return 0, 0, 0, false
		}
		vals[i] = float64(hi*16+lo) / 255
	}
	return vals[0], vals[1], vals[2], true
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// escapeText escapes a string for use inside a PDF literal string.
func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

type objEntry struct {
	offset int64
	gen    int
}

// update accumulates the body of one incremental update on top of the
// original file bytes.
type update struct {
	buf  bytes.Buffer
	objs map[int]objEntry
	next int
}

func newUpdate(original []byte, maxObj int) *update {
	u := &update{objs: make(map[int]objEntry), next: maxObj + 1}
	u.buf.Write(original)
	if n := len(original); n > 0 && original[n-1] != '\n' && original[n-1] != '\r' {
		u.buf.WriteByte('\n')
	}
	return u
}

func (u *update) nextObjNr() int {
	n := u.next
	u.next++
	return n
}

// add writes one object body and records its offset for the xref
// section.
func (u *update) add(nr, gen int, body string) {
	u.objs[nr] = objEntry{offset: int64(u.buf.Len()), gen: gen}
	fmt.Fprintf(&u.buf, "%d %d obj\n%s\nendobj\n", nr, gen, body)
}

// appendAnnotations writes the annotation objects for one page and
// rewrites whichever object holds the page's Annots array.
func (u *update) appendAnnotations(ctx *model.Context, pageRef types.IndirectRef, annots []types.Dict) error {
	obj, err := ctx.Dereference(pageRef)
	if err != nil {
		return err
	}
	pageDict, ok := obj.(types.Dict)
	if !ok {
		return errors.New("page object is not a dictionary")
	}

	refs := make(types.Array, 0, len(annots))
	for _, d := range annots {
		nr := u.nextObjNr()
		u.add(nr, 0, d.PDFString())
		refs = append(refs, types.IndirectRef{
			ObjectNumber:     types.Integer(nr),
			GenerationNumber: types.Integer(0),
		})
	}

	switch existing := pageDict["Annots"].(type) {
	case types.IndirectRef:
		// The array lives in its own object. Rewriting just that
		// object leaves the page dictionary untouched.
		resolved, err := ctx.Dereference(existing)
		if err != nil {
			return err
		}
		arr, ok := resolved.(types.Array)
		if !ok {
			return errors.New("Annots is not an array")
		}
		arr = append(arr, refs...)
		u.add(int(existing.ObjectNumber), int(existing.GenerationNumber), arr.PDFString())
	case types.Array:
		pageDict["Annots"] = append(existing, refs...)
		u.add(int(pageRef.ObjectNumber), int(pageRef.GenerationNumber), pageDict.PDFString())
	default:
		pageDict["Annots"] = refs
		u.add(int(pageRef.ObjectNumber), int(pageRef.GenerationNumber), pageDict.PDFString())
	}
	return nil
}

// finish appends the cross reference section and trailer and returns
// the complete file image.
func (u *update) finish(ctx *model.Context, prev int64) []byte {
	xrefOffset := u.buf.Len()
	u.buf.WriteString("xref\n")

	nums := make([]int, 0, len(u.objs))
	for nr := range u.objs {
		nums = append(nums, nr)
	}
	sort.Ints(nums)

	// Contiguous object numbers share one subsection.
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		fmt.Fprintf(&u.buf, "%d %d\n", nums[i], j-i+1)
		for _, nr := range nums[i : j+1] {
			e := u.objs[nr]
			fmt.Fprintf(&u.buf, "%010d %05d n \n", e.offset, e.gen)
		}
		i = j + 1
	}

	trailer := types.Dict{
		"Size": types.Integer(u.next),
		"Root": *ctx.Root,
		"Prev": types.Integer(prev),
	}
	if ctx.Info != nil {
		trailer["Info"] = *ctx.Info
	}
	if ctx.ID != nil {
		trailer["ID"] = ctx.ID
	}
	fmt.Fprintf(&u.buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer.PDFString(), xrefOffset)
	return u.buf.Bytes()
}
