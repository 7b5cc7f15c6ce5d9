package grading

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/examlytics/examctl/internal/models"
)

// Format is a scheme file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

var csvHeader = []string{"min", "max", "grade", "remark", "points"}

// FormatFromPath picks the encoding from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported scheme file %q: use .json, .yaml, .yml or .csv", path)
}

// LoadFile reads a scheme from path. The tag is the preset the rules match
// exactly, otherwise CustomTag.
func LoadFile(path string) (*Scheme, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scheme file: %w", err)
	}
	defer f.Close()

	s, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// SaveFile writes the scheme to path in the encoding implied by its extension.
func SaveFile(s *Scheme, path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create scheme file: %w", err)
	}
	if err := Encode(f, s, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Decode reads rules in the given format.
func Decode(r io.Reader, format Format) (*Scheme, error) {
	var rules []models.GradingRule
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&rules); err != nil {
			return nil, fmt.Errorf("invalid JSON scheme: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&rules); err != nil && err != io.EOF {
			return nil, fmt.Errorf("invalid YAML scheme: %w", err)
		}
	case FormatCSV:
		var err error
		if rules, err = decodeCSV(r); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return FromRules(rules), nil
}

// Encode writes the rules in the given format.
func Encode(w io.Writer, s *Scheme, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s.Rules()); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		return encodeCSV(w, s.rules)
	}
	return fmt.Errorf("unsupported format %q", format)
}

func decodeCSV(r io.Reader) ([]models.GradingRule, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV scheme: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Column positions come from the header so files may reorder them.
	cols := make(map[string]int)
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"min", "max", "grade"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("CSV scheme is missing the %q column", name)
		}
	}

	get := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	number := func(rec []string, name string, line int) (float64, error) {
		v := get(rec, name)
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("line %d: invalid %s %q", line, name, v)
		}
		return n, nil
	}

	rules := make([]models.GradingRule, 0, len(records)-1)
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		var rule models.GradingRule
		var err error
		if rule.Min, err = number(rec, "min", line); err != nil {
			return nil, err
		}
		if rule.Max, err = number(rec, "max", line); err != nil {
			return nil, err
		}
		if rule.Points, err = number(rec, "points", line); err != nil {
			return nil, err
		}
		rule.Grade = get(rec, "grade")
		rule.Remark = get(rec, "remark")
		rules = append(rules, rule)
	}
	return rules, nil
}

func encodeCSV(w io.Writer, rules []models.GradingRule) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rules {
		if err := cw.Write([]string{num(r.Min), num(r.Max), r.Grade, r.Remark, num(r.Points)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
