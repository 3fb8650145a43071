package ruledb

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// Column aliases, compared against cleaned headers case-insensitively.
var (
	clauseAliases = []string{"clause", "code", "clause number"}
	titleAliases  = []string{"title", "description", "clause title"}
	statusAliases = []string{"status", "classification", "disposition"}
	sourceAliases = []string{"source"}
)

// LoadDir loads every clause database file in dir. Files are visited
// in name order so repeated runs see sources identically.
func LoadDir(dir string, logger *slog.Logger) ([]Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read database directory: %w", err)
	}

	var sources []Source
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if SkipFile(name) {
			logger.Debug("skipping database file", "file", name)
			continue
		}

		path := filepath.Join(dir, name)
		tag := strings.TrimSuffix(name, filepath.Ext(name))

		var src Source
		switch strings.ToLower(filepath.Ext(name)) {
		case ".csv":
			src, err = loadCSV(path, tag)
		case ".xlsx", ".xlsm":
			src, err = loadExcel(path, tag)
		default:
			logger.Debug("ignoring unsupported database file", "file", name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}

		logger.Info("loaded clause source", "file", name, "tag", src.Tag, "clauses", len(src.Clauses))
		sources = append(sources, src)
	}

	return sources, nil
}

// SkipFile reports whether a database directory entry should be
// ignored: editor lock files, hidden files, definition sheets, and our
// own generated matrices.
func SkipFile(name string) bool {
	if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
		return true
	}
	if strings.Contains(name, "Definitions") {
		return true
	}
	return strings.HasPrefix(name, "Compliance_Matrix_")
}

// loadCSV reads a CSV source. Files that are not valid UTF-8 are
// retried as Latin-1, which covers the usual Windows exports.
func loadCSV(path, tag string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, err
	}

	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return Source{}, fmt.Errorf("failed to decode as latin-1: %w", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return Source{}, fmt.Errorf("failed to parse csv: %w", err)
	}

	return buildSource(rows, tag, path)
}

// loadExcel reads the first worksheet of an xlsx or xlsm source.
func loadExcel(path, tag string) (Source, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Source{}, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Source{}, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	return buildSource(rows, tag, path)
}

// buildSource turns raw rows into a Source. The first row is treated
// as headers; rows whose clause cell does not look like a clause
// number are dropped.
func buildSource(rows [][]string, tag, path string) (Source, error) {
	src := Source{Tag: tag, Path: path}
	if len(rows) == 0 {
		return src, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = CleanHeader(h)
	}

	clauseCol := findColumn(headers, clauseAliases)
	if clauseCol < 0 {
		return Source{}, fmt.Errorf("no clause column among headers %v", headers)
	}
	titleCol := findColumn(headers, titleAliases)
	statusCol := findColumn(headers, statusAliases)
	sourceCol := findColumn(headers, sourceAliases)

	for _, row := range rows[1:] {
		code := strings.TrimSpace(cell(row, clauseCol))
		if !eligibleCode(code) {
			continue
		}

		clauseTag := tag
		if s := strings.TrimSpace(cell(row, sourceCol)); s != "" {
			clauseTag = s
		}

		rawStatus := strings.TrimSpace(cell(row, statusCol))
		src.Clauses = append(src.Clauses, Clause{
			Key:            Canonicalize(code),
			Code:           code,
			Title:          strings.TrimSpace(cell(row, titleCol)),
			RawStatus:      rawStatus,
			Classification: ParseClassification(rawStatus),
			Source:         clauseTag,
		})
	}

	return src, nil
}

// CleanHeader normalizes a header cell: newlines and asterisks are
// stripped and runs of whitespace collapse to single spaces.
func CleanHeader(h string) string {
	h = strings.ReplaceAll(h, "\n", " ")
	h = strings.ReplaceAll(h, "\r", " ")
	h = strings.ReplaceAll(h, "*", "")
	return strings.Join(strings.Fields(h), " ")
}

func findColumn(headers []string, aliases []string) int {
	for i, h := range headers {
		for _, a := range aliases {
			if strings.EqualFold(h, a) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
