package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/redlinehq/redline/internal/ruledb"
)

// Report is the yaml run report written next to the other artifacts.
type Report struct {
	RunID    string           `yaml:"run_id"`
	Stamp    string           `yaml:"stamp"`
	Started  time.Time        `yaml:"started"`
	Duration string           `yaml:"duration"`
	Database DatabaseReport   `yaml:"database"`
	Docs     []DocumentReport `yaml:"documents"`
	Combined string           `yaml:"combined_matrix,omitempty"`
}

// DatabaseReport summarizes the merged clause database.
type DatabaseReport struct {
	Clauses   int              `yaml:"clauses"`
	Sources   map[string]int   `yaml:"sources"`
	Conflicts []ConflictReport `yaml:"conflicts,omitempty"`
}

// ConflictReport records one duplicate clause key and its resolution.
type ConflictReport struct {
	Key     string `yaml:"key"`
	Kept    string `yaml:"kept"`
	Dropped string `yaml:"dropped"`
	Differs bool   `yaml:"differs"`
}

// DocumentReport records one document's review outcome.
type DocumentReport struct {
	Name          string     `yaml:"name"`
	Path          string     `yaml:"path"`
	Status        Status     `yaml:"status"`
	Error         string     `yaml:"error,omitempty"`
	Method        string     `yaml:"method,omitempty"`
	Matches       int        `yaml:"matches"`
	UnknownCodes  int        `yaml:"unknown_codes,omitempty"`
	LowConfidence int        `yaml:"low_confidence_matches,omitempty"`
	OCR           *OCRReport `yaml:"ocr,omitempty"`
	Warnings      []string   `yaml:"warnings,omitempty"`
	Matrix        string     `yaml:"matrix,omitempty"`
	Annotated     string     `yaml:"annotated,omitempty"`
}

// OCRReport summarizes the OCR fallback for one document.
type OCRReport struct {
	PagesProcessed     int   `yaml:"pages_processed"`
	PagesFailed        []int `yaml:"pages_failed,omitempty"`
	Words              int   `yaml:"words"`
	LowConfidenceWords int   `yaml:"low_confidence_words,omitempty"`
}

// writeReport renders the run report for res to path.
func writeReport(path string, res *Result) error {
	data, err := yaml.Marshal(buildReport(res))
	if err != nil {
		return fmt.Errorf("failed to render run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

func buildReport(res *Result) *Report {
	rep := &Report{
		RunID:    res.RunID,
		Stamp:    res.Stamp,
		Started:  res.Started,
		Duration: res.Duration.Round(time.Millisecond).String(),
		Combined: res.CombinedMatrixPath,
	}

	if res.DB != nil {
		rep.Database = DatabaseReport{
			Clauses: res.DB.Len(),
			Sources: res.DB.CountBySource(),
		}
		for _, c := range res.DB.Conflicts {
			rep.Database.Conflicts = append(rep.Database.Conflicts, ConflictReport{
				Key:     c.Key,
				Kept:    c.KeptSource,
				Dropped: c.DroppedSource,
				Differs: c.Differs(),
			})
		}
	}

	for _, dr := range res.Documents {
		rep.Docs = append(rep.Docs, documentReport(dr))
	}
	return rep
}

func documentReport(dr DocResult) DocumentReport {
	d := DocumentReport{
		Name:      dr.Name,
		Path:      dr.Path,
		Status:    dr.Status,
		Method:    string(dr.Method),
		Matches:   len(dr.Matches),
		Matrix:    dr.MatrixPath,
		Annotated: dr.Annotation.Path,
	}
	if dr.Err != nil {
		d.Error = dr.Err.Error()
	}

	for _, m := range dr.Matches {
		if m.Classification == ruledb.ClassUnknown {
			d.UnknownCodes++
			d.Warnings = append(d.Warnings,
				fmt.Sprintf("unknown code %s (p%d)", m.Raw, m.Page))
		}
		if m.LowConfidence {
			d.LowConfidence++
		}
	}

	if dr.OCR.PagesProcessed > 0 || len(dr.OCR.PagesFailed) > 0 {
		d.OCR = &OCRReport{
			PagesProcessed:     dr.OCR.PagesProcessed,
			PagesFailed:        dr.OCR.PagesFailed,
			Words:              dr.OCR.Words,
			LowConfidenceWords: dr.OCR.LowConfidenceWords,
		}
		for _, pe := range dr.OCR.PageErrors {
			d.Warnings = append(d.Warnings, fmt.Sprintf("ocr failed on page %d: %v", pe.Page, pe.Err))
		}
	}

	for _, pe := range dr.Annotation.PageErrors {
		d.Warnings = append(d.Warnings, fmt.Sprintf("annotation failed on page %d: %v", pe.Page, pe.Err))
	}
	if dr.Annotation.Skipped > 0 {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("%d degenerate highlight regions skipped", dr.Annotation.Skipped))
	}
	return d
}
