// Package sheet pre-checks an exam spreadsheet locally so obvious problems are
// reported before the upload.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/util/sanitize"
)

// ErrUnsupportedFormat is returned for files the server cannot analyse.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// excludeKeywords are the column-name fragments the analysis never treats as
// subjects.
var excludeKeywords = []string{
	"id", "adm", "phone", "contact", "year", "stream", "class", "age",
	"total", "sum", "average", "avg", "mean", "rank", "position",
}

// Column is one header cell with what the inspection found under it.
type Column struct {
	Name     string
	Numeric  bool   // every non-empty value parses as a number
	Values   int    // non-empty values
	Excluded string // matching keyword or ignore entry, empty when kept
}

// Subject reports whether the analysis will treat the column as a subject.
func (c Column) Subject() bool { return c.Numeric && c.Values > 0 && c.Excluded == "" }

// Report is the outcome of Inspect.
type Report struct {
	Path     string
	Format   string
	Size     int64
	Sheet    string
	Rows     int // data rows, header excluded
	Columns  []Column
	Warnings []string
}

// Subjects returns the names of the subject columns in file order.
func (r *Report) Subjects() []string {
	var out []string
	for _, c := range r.Columns {
		if c.Subject() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Inspect reads the header and data rows of a .csv or .xlsx file and predicts
// which columns the analysis will grade. ignore is the free-text ignore list
// sent with the upload. Problems the server would reject outright are errors;
// everything else is a warning.
func Inspect(path, ignore string) (*Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > constants.MaxUploadSize {
		return nil, fmt.Errorf("file too large: %d bytes exceeds the %d MB limit", info.Size(), constants.MaxUploadSize/(1024*1024))
	}

	report := &Report{Path: path, Size: info.Size()}
	var rows [][]string

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		report.Format = "csv"
		rows, err = readCSV(path)
	case ".xlsx", ".xlsm":
		report.Format = "xlsx"
		rows, report.Sheet, err = readXLSX(path)
	case ".xls":
		report.Format = "xls"
		report.Warnings = append(report.Warnings, "legacy .xls files cannot be inspected locally; the server will still try to read it")
		return report, nil
	default:
		return nil, fmt.Errorf("%w: %q (use .csv or .xlsx)", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	analyse(report, rows, parseIgnore(ignore, report))
	return report, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, string, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer file.Close()

	// The analysis reads the first worksheet only.
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, "", fmt.Errorf("%w: workbook has no sheets", ErrUnsupportedFormat)
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, "", fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, sheets[0], nil
}

// parseIgnore splits the ignore list the way the server does. An empty entry
// (for example a trailing comma) matches every column on the server, so it is
// reported and then skipped.
func parseIgnore(ignore string, report *Report) []string {
	if strings.TrimSpace(ignore) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(ignore, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			report.Warnings = append(report.Warnings, "ignore list contains an empty entry; the server may exclude every column from report cards")
			continue
		}
		out = append(out, p)
	}
	return out
}

func analyse(report *Report, rows [][]string, ignore []string) {
	if len(rows) == 0 {
		report.Warnings = append(report.Warnings, "file is empty")
		return
	}

	header := rows[0]
	data := rows[1:]
	report.Rows = len(data)
	if report.Rows == 0 {
		report.Warnings = append(report.Warnings, "file has a header but no student rows")
	}

	seen := make(map[string]bool)
	for i, name := range header {
		col := Column{Name: sanitize.Header(name)}
		if col.Name == "" {
			col.Name = fmt.Sprintf("Unnamed: %d", i)
		}
		lower := strings.ToLower(col.Name)
		if seen[lower] {
			report.Warnings = append(report.Warnings, fmt.Sprintf("duplicate column %q", col.Name))
		}
		seen[lower] = true

		col.Numeric = true
		for _, row := range data {
			if i >= len(row) {
				continue
			}
			v := sanitize.Field(row[i])
			if v == "" {
				continue
			}
			col.Values++
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				col.Numeric = false
			}
		}
		col.Excluded = excludedBy(lower, ignore)
		report.Columns = append(report.Columns, col)
	}

	if len(report.Subjects()) == 0 && report.Rows > 0 {
		report.Warnings = append(report.Warnings, "no subject columns detected; the analysis will fail")
	}
}

func excludedBy(column string, ignore []string) string {
	for _, k := range excludeKeywords {
		if strings.Contains(column, k) {
			return k
		}
	}
	for _, k := range ignore {
		if column == k || strings.Contains(column, k) {
			return k
		}
	}
	return ""
}
