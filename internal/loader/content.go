package loader

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
)

// glyphWidthRatio estimates glyph advance as a fraction of font size.
// pdfcpu does not expose font metrics; half an em is close enough for
// line grouping and highlight boxes.
const glyphWidthRatio = 0.5

// defaultFontSize stands in when a stream shows text before any Tf.
const defaultFontSize = 10.0

// interpretContent walks a decoded PDF content stream and emits one
// span per text-showing operation.
func interpretContent(data []byte) []doc.Span {
	in := &interpreter{
		ctm:    doc.Identity(),
		tm:     doc.Identity(),
		tlm:    doc.Identity(),
		hscale: 1,
	}
	sc := &contentScanner{data: data}

	var operands []operand
	for {
		tok, ok := sc.next()
		if !ok {
			break
		}
		if tok.kind != opOperator {
			operands = append(operands, tok)
			continue
		}
		in.execute(tok.name, operands)
		operands = operands[:0]
		if tok.name == "BI" {
			sc.skipInlineImage()
		}
	}
	return in.spans
}

// interpreter holds the graphics and text state the text operators
// touch. Matrices follow the PDF row-vector convention, so composing
// a with b applies a first.
type interpreter struct {
	ctm    doc.Matrix
	stack  []doc.Matrix
	tm     doc.Matrix
	tlm    doc.Matrix
	lead   float64
	font   string
	size   float64
	charSp float64
	wordSp float64
	hscale float64

	cur   *spanBuilder
	spans []doc.Span
}

type spanBuilder struct {
	start   doc.Point
	scaleX  float64
	height  float64
	font    string
	size    float64
	text    strings.Builder
	advance float64 // text space units
}

func (in *interpreter) execute(op string, args []operand) {
	switch op {
	case "q":
		in.stack = append(in.stack, in.ctm)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.ctm = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if m, ok := matrixArgs(args); ok {
			in.ctm = m.Multiply(in.ctm)
		}
	case "BT":
		in.tm, in.tlm = doc.Identity(), doc.Identity()
	case "Tf":
		if len(args) == 2 && args[1].kind == opNum {
			if args[0].kind == opName {
				in.font = args[0].name
			}
			in.size = args[1].num
		}
	case "TL":
		if len(args) == 1 && args[0].kind == opNum {
			in.lead = args[0].num
		}
	case "Tc":
		if len(args) == 1 && args[0].kind == opNum {
			in.charSp = args[0].num
		}
	case "Tw":
		if len(args) == 1 && args[0].kind == opNum {
			in.wordSp = args[0].num
		}
	case "Tz":
		if len(args) == 1 && args[0].kind == opNum {
			in.hscale = args[0].num / 100
		}
	case "Td":
		if len(args) == 2 && args[0].kind == opNum && args[1].kind == opNum {
			in.moveText(args[0].num, args[1].num)
		}
	case "TD":
		if len(args) == 2 && args[0].kind == opNum && args[1].kind == opNum {
			in.lead = -args[1].num
			in.moveText(args[0].num, args[1].num)
		}
	case "T*":
		in.nextLine()
	case "Tm":
		if m, ok := matrixArgs(args); ok {
			in.tm, in.tlm = m, m
		}
	case "Tj":
		if len(args) == 1 && args[0].kind == opStr {
			in.showString(args[0].str)
		}
	case "'":
		in.nextLine()
		if len(args) == 1 && args[0].kind == opStr {
			in.showString(args[0].str)
		}
	case "\"":
		if len(args) == 3 {
			if args[0].kind == opNum {
				in.wordSp = args[0].num
			}
			if args[1].kind == opNum {
				in.charSp = args[1].num
			}
			in.nextLine()
			if args[2].kind == opStr {
				in.showString(args[2].str)
			}
		}
	case "TJ":
		if len(args) == 1 && args[0].kind == opArr {
			in.showArray(args[0].arr)
		}
	}
}

func (in *interpreter) moveText(tx, ty float64) {
	in.tlm = doc.Translate(tx, ty).Multiply(in.tlm)
	in.tm = in.tlm
}

func (in *interpreter) nextLine() {
	in.moveText(0, -in.lead)
}

func (in *interpreter) effSize() float64 {
	if in.size > 0 {
		return in.size
	}
	return defaultFontSize
}

func (in *interpreter) showString(raw []byte) {
	in.beginSpan()
	in.appendText(raw)
	in.endSpan()
}

func (in *interpreter) showArray(arr []operand) {
	in.beginSpan()
	for _, el := range arr {
		switch el.kind {
		case opStr:
			in.appendText(el.str)
		case opNum:
			// Positive adjustments move the next glyph left.
			in.adjust(-el.num / 1000 * in.effSize() * in.hscale)
		}
	}
	in.endSpan()
}

func (in *interpreter) beginSpan() {
	combined := in.tm.Multiply(in.ctm)
	in.cur = &spanBuilder{
		start:  combined.Transform(doc.Point{}),
		scaleX: combined.ScaleX(),
		height: in.effSize() * combined.ScaleY(),
		font:   in.font,
		size:   in.effSize(),
	}
}

func (in *interpreter) appendText(raw []byte) {
	if in.cur == nil {
		return
	}
	text := toText(raw)
	in.cur.text.WriteString(text)

	adv := 0.0
	size := in.effSize()
	for _, r := range text {
		adv += size*glyphWidthRatio + in.charSp
		if r == ' ' {
			adv += in.wordSp
		}
	}
	adv *= in.hscale

	in.cur.advance += adv
	in.tm = doc.Translate(adv, 0).Multiply(in.tm)
}

func (in *interpreter) adjust(tx float64) {
	if in.cur != nil {
		in.cur.advance += tx
	}
	in.tm = doc.Translate(tx, 0).Multiply(in.tm)
}

func (in *interpreter) endSpan() {
	b := in.cur
	in.cur = nil
	if b == nil {
		return
	}

	text := b.text.String()
	if strings.TrimSpace(text) == "" {
		return
	}

	width := b.advance * b.scaleX
	if width < 0.1 {
		width = 0.1
	}

	in.spans = append(in.spans, doc.Span{
		Text:       text,
		Box:        doc.NewBBox(b.start.X, b.start.Y, width, b.height),
		Style:      doc.Style{Font: b.font, Size: b.size},
		Method:     doc.MethodNative,
		Confidence: 1,
	})
}

func matrixArgs(args []operand) (doc.Matrix, bool) {
	if len(args) != 6 {
		return doc.Matrix{}, false
	}
	var m doc.Matrix
	for i, a := range args {
		if a.kind != opNum {
			return doc.Matrix{}, false
		}
		m[i] = a.num
	}
	return m, true
}

// toText converts raw string bytes to UTF-8. Bytes are taken as
// Latin-1; NUL bytes, which two-byte CID encodings pad ASCII with, are
// dropped.
func toText(raw []byte) string {
	var sb strings.Builder
	for _, b := range raw {
		if b == 0 {
			continue
		}
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

type operandKind int

const (
	opNum operandKind = iota
	opStr
	opName
	opArr
	opOperator
)

type operand struct {
	kind operandKind
	num  float64
	str  []byte
	name string
	arr  []operand
}

// contentScanner tokenizes a content stream: numbers, strings, hex
// strings, names, arrays, and bare operators. Dictionaries and inline
// image data are skipped.
type contentScanner struct {
	data []byte
	pos  int
}

func (s *contentScanner) next() (operand, bool) {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return operand{}, false
	}

	switch c := s.data[s.pos]; {
	case c == '(':
		return operand{kind: opStr, str: s.scanString()}, true
	case c == '<':
		if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
			s.skipDict()
			return s.next()
		}
		return operand{kind: opStr, str: s.scanHexString()}, true
	case c == '[':
		s.pos++
		var arr []operand
		for {
			s.skipSpace()
			if s.pos >= len(s.data) {
				break
			}
			if s.data[s.pos] == ']' {
				s.pos++
				break
			}
			el, ok := s.next()
			if !ok {
				break
			}
			arr = append(arr, el)
		}
		return operand{kind: opArr, arr: arr}, true
	case c == ']' || c == '{' || c == '}' || c == ')' || c == '>':
		// Stray delimiter, drop it.
		s.pos++
		return s.next()
	case c == '/':
		return operand{kind: opName, name: s.scanName()}, true
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return operand{kind: opNum, num: s.scanNumber()}, true
	default:
		return operand{kind: opOperator, name: s.scanOperator()}, true
	}
}

func (s *contentScanner) skipSpace() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if isWhite(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

// scanString reads a parenthesized string literal, honoring nesting
// and backslash escapes.
func (s *contentScanner) scanString() []byte {
	s.pos++ // '('
	var raw []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '\\' && s.pos+1 < len(s.data) {
			raw = append(raw, c, s.data[s.pos+1])
			s.pos += 2
			continue
		}
		if c == '(' {
			depth++
		} else if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
		}
		raw = append(raw, c)
		s.pos++
	}
	return decodeEscapes(raw)
}

func (s *contentScanner) scanHexString() []byte {
	s.pos++ // '<'
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		c := s.data[s.pos]
		if isHexDigit(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	if s.pos < len(s.data) {
		s.pos++ // '>'
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	hex.Decode(out, digits)
	return out
}

func (s *contentScanner) skipDict() {
	depth := 0
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '(' {
			s.scanString()
			continue
		}
		if c == '<' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
			depth++
			s.pos += 2
			continue
		}
		if c == '>' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '>' {
			depth--
			s.pos += 2
			if depth <= 0 {
				return
			}
			continue
		}
		s.pos++
	}
}

func (s *contentScanner) scanName() string {
	s.pos++ // '/'
	start := s.pos
	for s.pos < len(s.data) && !isDelimiter(s.data[s.pos]) && !isWhite(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

func (s *contentScanner) scanNumber() float64 {
	start := s.pos
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			s.pos++
			continue
		}
		break
	}
	n, err := strconv.ParseFloat(string(s.data[start:s.pos]), 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *contentScanner) scanOperator() string {
	start := s.pos
	for s.pos < len(s.data) && !isDelimiter(s.data[s.pos]) && !isWhite(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// Lone delimiter that slipped through; consume it.
		s.pos++
	}
	return string(s.data[start:s.pos])
}

// skipInlineImage advances past inline image data to the EI marker.
func (s *contentScanner) skipInlineImage() {
	for i := s.pos; i+1 < len(s.data); i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		prevOK := i == 0 || isWhite(s.data[i-1])
		nextOK := i+2 >= len(s.data) || isWhite(s.data[i+2])
		if prevOK && nextOK {
			s.pos = i + 2
			return
		}
	}
	s.pos = len(s.data)
}

// decodeEscapes resolves backslash escapes in a string literal:
// named escapes, octal codes, and line continuations.
func decodeEscapes(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out = append(out, raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case '\\', '(', ')':
			out = append(out, raw[i])
		case '\r':
			// Line continuation; swallow an LF that follows.
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case '\n':
			// Line continuation.
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				out = append(out, byte(val))
			} else {
				out = append(out, raw[i])
			}
		}
	}
	return out
}

func isWhite(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
