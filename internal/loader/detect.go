package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/redlinehq/redline/internal/doc"
)

// HasSupportedExt reports whether a file name carries an extension the
// loader handles. It is the cheap filter for directory scans; Detect
// has the final word.
func HasSupportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

// Detect determines a file's format. The content signature wins over
// the extension when the two disagree: procurement portals are full of
// mislabeled uploads. The extension is consulted only when the content
// is inconclusive.
func Detect(path string) (doc.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	if format, ok := detectContent(f, info.Size()); ok {
		return format, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return doc.FormatPDF, nil
	case ".docx":
		return doc.FormatDOCX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// detectContent inspects magic bytes. For ZIP containers it looks for
// the word/ part that marks Office Open XML word processing files.
func detectContent(r io.ReaderAt, size int64) (doc.Format, bool) {
	magic := make([]byte, 4)
	n, err := r.ReadAt(magic, 0)
	if err != nil && err != io.EOF {
		return "", false
	}
	magic = magic[:n]

	if bytes.HasPrefix(magic, []byte("%PDF")) {
		return doc.FormatPDF, true
	}

	if bytes.HasPrefix(magic, []byte{0x50, 0x4B, 0x03, 0x04}) {
		zr, err := zip.NewReader(r, size)
		if err != nil {
			return "", false
		}
		for _, f := range zr.File {
			if strings.HasPrefix(f.Name, "word/") {
				return doc.FormatDOCX, true
			}
		}
	}

	return "", false
}
