package sheet

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInspect_CSV(t *testing.T) {
	path := writeFile(t, "term1.csv", strings.Join([]string{
		"Adm No,Name,Stream,Math,English,Kiswahili,Total,Comment",
		"101,Jane,East,80,71,66,217,Good",
		"102,John,West,55,,49,104,Fair",
	}, "\n"))

	report, err := Inspect(path, "")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if report.Format != "csv" || report.Rows != 2 {
		t.Errorf("format=%q rows=%d", report.Format, report.Rows)
	}
	if diff := cmp.Diff([]string{"Math", "English", "Kiswahili"}, report.Subjects()); diff != "" {
		t.Errorf("subjects (-want +got):\n%s", diff)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", report.Warnings)
	}
}

func TestInspect_IgnoreList(t *testing.T) {
	path := writeFile(t, "term1.csv", "Name,Math,CRE,Art\nJane,80,70,60\n")

	report, err := Inspect(path, " cre , ART")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Math"}, report.Subjects()); diff != "" {
		t.Errorf("subjects (-want +got):\n%s", diff)
	}

	report, _ = Inspect(path, "cre,")
	if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "empty entry") {
		t.Errorf("warnings = %v", report.Warnings)
	}
}

func TestInspect_KeywordQuirk(t *testing.T) {
	// "Language" contains "age", which the analysis excludes.
	path := writeFile(t, "t.csv", "Name,Language,Math\nA,50,60\n")
	report, err := Inspect(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Columns[1].Excluded != "age" {
		t.Errorf("Language excluded by %q", report.Columns[1].Excluded)
	}
}

func TestInspect_NoSubjects(t *testing.T) {
	path := writeFile(t, "t.csv", "Name,Total\nJane,300\n")
	report, err := Inspect(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Warnings) == 0 || !strings.Contains(report.Warnings[0], "no subject columns") {
		t.Errorf("warnings = %v", report.Warnings)
	}
}

func TestInspect_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Name", "Biology", "Physics", "Position"},
		{"Jane", 88, 79, 1},
		{"John", 41, "absent", 2},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "form3.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	report, err := Inspect(path, "")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if report.Format != "xlsx" || report.Sheet != sheet {
		t.Errorf("format=%q sheet=%q", report.Format, report.Sheet)
	}
	// Physics has a text cell so it is not numeric.
	if diff := cmp.Diff([]string{"Biology"}, report.Subjects()); diff != "" {
		t.Errorf("subjects (-want +got):\n%s", diff)
	}
}

func TestInspect_Rejections(t *testing.T) {
	if _, err := Inspect(writeFile(t, "exam.pdf", "x"), ""); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("pdf: %v", err)
	}
	if _, err := Inspect(filepath.Join(t.TempDir(), "missing.csv"), ""); err == nil {
		t.Error("missing file accepted")
	}

	big := filepath.Join(t.TempDir(), "big.csv")
	f, _ := os.Create(big)
	_ = f.Truncate(10*1024*1024 + 1)
	f.Close()
	if _, err := Inspect(big, ""); err == nil || !strings.Contains(err.Error(), "10 MB") {
		t.Errorf("oversized file: %v", err)
	}

	report, err := Inspect(writeFile(t, "old.xls", "x"), "")
	if err != nil || len(report.Warnings) != 1 {
		t.Errorf("xls: %v %v", report, err)
	}
}

func TestInspect_CleansExportedHeaders(t *testing.T) {
	path := writeFile(t, "export.csv", "\uFEFFName,Math,Business  Studies\nJane,70,65\n")

	report, err := Inspect(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Columns[0].Name != "Name" {
		t.Errorf("first header = %q, want %q", report.Columns[0].Name, "Name")
	}
	if diff := cmp.Diff([]string{"Math", "Business Studies"}, report.Subjects()); diff != "" {
		t.Errorf("subjects (-want +got):\n%s", diff)
	}
}
