// Package testutil builds throwaway PDF and DOCX fixtures for tests.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// MinimalPDF assembles a classic-xref PDF with one US-Letter page per
// content stream and a shared Helvetica font at /F1.
func MinimalPDF(contentStreams ...string) []byte {
	if len(contentStreams) == 0 {
		contentStreams = []string{""}
	}

	n := len(contentStreams)
	fontObj := 3 + 2*n
	size := fontObj + 1

	var buf bytes.Buffer
	offsets := make([]int, size)

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.4\n")

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			kids += " "
		}
		kids += fmt.Sprintf("%d 0 R", 3+2*i)
	}
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))

	for i, stream := range contentStreams {
		pageObj := 3 + 2*i
		contentObj := pageObj + 1
		writeObj(pageObj, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			fontObj, contentObj))
		writeObj(contentObj, fmt.Sprintf(
			"<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	writeObj(fontObj, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xrefOffset)

	return buf.Bytes()
}

// WritePDF writes a MinimalPDF fixture into dir and returns its path.
func WritePDF(t *testing.T, dir, name string, contentStreams ...string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, MinimalPDF(contentStreams...), 0o644); err != nil {
		t.Fatalf("writing pdf fixture: %v", err)
	}
	return path
}

// TextStream renders a content stream that shows each line of text at
// the given start position, stepping down by the leading.
func TextStream(x, y, fontSize, leading float64, lines ...string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "BT /F1 %g Tf %g TL %g %g Td\n", fontSize, leading, x, y)
	for i, line := range lines {
		if i > 0 {
			buf.WriteString("T*\n")
		}
		fmt.Fprintf(&buf, "(%s) Tj\n", escapeStringLiteral(line))
	}
	buf.WriteString("ET")
	return buf.String()
}

func escapeStringLiteral(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			buf.WriteByte('\\')
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
