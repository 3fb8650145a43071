package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Rasterizer renders one PDF page to an encoded PNG.
type Rasterizer interface {
	RenderPage(ctx context.Context, pdfPath string, pageNumber, dpi int) ([]byte, error)
}

// Poppler shells out to pdftoppm (poppler-utils) for rasterization.
type Poppler struct{}

// Check reports whether pdftoppm is on PATH.
func (Poppler) Check() error {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return fmt.Errorf("pdftoppm not found, install poppler-utils: %w", err)
	}
	return nil
}

// RenderPage rasterizes a single page.
// -png: output PNG format
// -f N / -l N: first and last page to render
// -r N: resolution in DPI
// -singlefile: don't add a page number suffix
func (Poppler) RenderPage(ctx context.Context, pdfPath string, pageNumber, dpi int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "redline-page-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(pageNumber)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, output)
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
