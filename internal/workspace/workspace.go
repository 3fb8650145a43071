// Package workspace manages the on-disk layout of a review workspace:
// clause database sources, incoming solicitation documents, and the
// generated output artifacts.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DatabaseDirName is the subdirectory holding clause database files.
	DatabaseDirName = "database"

	// SolicitationsDirName is the subdirectory holding documents to review.
	SolicitationsDirName = "solicitations"

	// OutputDirName is the subdirectory receiving matrices, annotated
	// copies and run reports.
	OutputDirName = "output"

	// ConfigFileName is the default config file name.
	ConfigFileName = "redline.yaml"
)

// StampLayout is the time format embedded in output file names.
const StampLayout = "2006-01-02_15-04-05"

// Stamp formats a run time the way output file names embed it.
func Stamp(t time.Time) string {
	return t.Format(StampLayout)
}

// Dir represents the review workspace directory structure.
type Dir struct {
	path   string
	output string // overrides the output directory when set
}

// New creates a new Dir with the given path.
// If path is empty, uses the current working directory.
func New(path string) (*Dir, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		path = wd
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the workspace.
func (d *Dir) Path() string {
	return d.path
}

// DatabasePath returns the path to the clause database directory.
func (d *Dir) DatabasePath() string {
	return filepath.Join(d.path, DatabaseDirName)
}

// SolicitationsPath returns the path to the solicitations directory.
func (d *Dir) SolicitationsPath() string {
	return filepath.Join(d.path, SolicitationsDirName)
}

// SetOutput redirects generated artifacts to dir instead of the
// workspace output subdirectory.
func (d *Dir) SetOutput(dir string) {
	d.output = dir
}

// OutputPath returns the path to the output directory.
func (d *Dir) OutputPath() string {
	if d.output != "" {
		return d.output
	}
	return filepath.Join(d.path, OutputDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the workspace directories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.DatabasePath(), d.SolicitationsPath(), d.OutputPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the workspace root exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the workspace.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// MatrixPath returns the output path for a document's compliance matrix.
func (d *Dir) MatrixPath(docName, stamp string) string {
	return filepath.Join(d.OutputPath(), fmt.Sprintf("Compliance_Matrix_%s_%s.xlsx", docName, stamp))
}

// CombinedMatrixPath returns the output path for the run-wide matrix
// produced when aggregation is set to combined.
func (d *Dir) CombinedMatrixPath(stamp string) string {
	return filepath.Join(d.OutputPath(), fmt.Sprintf("Compliance_Matrix_%s.xlsx", stamp))
}

// AnnotatedPath returns the output path for a document's highlighted copy.
// ext is the bare extension, "pdf" or "docx".
func (d *Dir) AnnotatedPath(docName, stamp, ext string) string {
	return filepath.Join(d.OutputPath(), fmt.Sprintf("Executed_Highlights_%s_%s.%s", docName, stamp, ext))
}

// ReportPath returns the output path for a run report.
func (d *Dir) ReportPath(stamp string) string {
	return filepath.Join(d.OutputPath(), fmt.Sprintf("report_%s.yaml", stamp))
}
