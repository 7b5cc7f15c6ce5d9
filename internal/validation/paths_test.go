package validation

import (
	"path/filepath"
	"testing"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"term1_processed.xlsx", false},
		{"subject chart.png", false},
		{"data..v2.csv", false},
		{"12", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../secret", true},
		{`..\secret`, true},
		{"a/b.zip", true},
		{"bad\x00.zip", true},
	}
	for _, tt := range tests {
		err := Filename(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("Filename(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestWithinDir(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"12/report.zip", false},
		{filepath.Join(base, "12", "chart.png"), false},
		{"12/../13/chart.png", false},
		{".", false},
		{"../outside.zip", true},
		{"12/../../outside.zip", true},
		{filepath.Join(filepath.Dir(base), "other"), true},
		{"", true},
	}
	for _, tt := range tests {
		err := WithinDir(tt.path, base)
		if (err != nil) != tt.wantErr {
			t.Errorf("WithinDir(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}

	if err := WithinDir("a", ""); err == nil {
		t.Error("empty base accepted")
	}
}
