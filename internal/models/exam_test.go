package models

import (
	"encoding/json"
	"testing"
)

func TestExamUpload_UnmarshalCompleted(t *testing.T) {
	body := `{
		"id": 42,
		"title": "Term 1",
		"uploaded_at": "2025-03-01T08:30:00.123456Z",
		"status": "COMPLETED",
		"message": "Analysis complete",
		"analysis_summary": {"student_count": 30, "class_mean": 65.2, "pass_rate": 80, "top_student": "Jane"},
		"processed_file": "http://host/media/results/a.xlsx",
		"reports_zip": "http://host/media/reports/a.zip",
		"subject_chart": null,
		"passrate_chart": ""
	}`

	var e ExamUpload
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.ID != "42" {
		t.Errorf("ID = %q, want 42", e.ID)
	}
	if !e.Status.IsTerminal() {
		t.Error("COMPLETED must be terminal")
	}
	s := e.Summary()
	if s == nil || s.ClassMean != 65.2 || s.PassRate != 80 || s.TopStudent != "Jane" || s.StudentCount != 30 {
		t.Fatalf("summary = %+v", s)
	}
	arts := e.Artifacts()
	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts (empty and null skipped), got %d: %+v", len(arts), arts)
	}
	if arts[0].Name != ArtifactProcessedFile || arts[1].Name != ArtifactReportsZip {
		t.Errorf("unexpected artifact order: %+v", arts)
	}
}

func TestExamUpload_UnmarshalPending(t *testing.T) {
	body := `{"id":"abc","title":"Term 1","status":"PENDING","message":null,"analysis_summary":{}}`

	var e ExamUpload
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.ID != "abc" {
		t.Errorf("ID = %q, want abc", e.ID)
	}
	if e.Message != "" {
		t.Errorf("null message should decode to empty, got %q", e.Message)
	}
	if e.AnalysisSummary != nil {
		t.Error("empty summary object should decode to nil")
	}
	if e.Status.IsTerminal() {
		t.Error("PENDING must not be terminal")
	}
	if e.Artifacts() != nil || e.Summary() != nil {
		t.Error("artifacts and summary are undefined before COMPLETED")
	}
}

func TestExamUpload_ArtifactsHiddenUntilCompleted(t *testing.T) {
	url := "http://host/x.xlsx"
	e := ExamUpload{Status: StatusProcessing, ProcessedFile: &url}
	if len(e.Artifacts()) != 0 {
		t.Error("artifacts must not be exposed while PROCESSING")
	}
}

func TestExamUpload_Clone(t *testing.T) {
	url := "http://host/x.xlsx"
	orig := &ExamUpload{ID: "1", Status: StatusCompleted, ProcessedFile: &url, AnalysisSummary: &AnalysisSummary{ClassMean: 50}}
	c := orig.Clone()
	*c.ProcessedFile = "changed"
	c.AnalysisSummary.ClassMean = 99
	if *orig.ProcessedFile != url || orig.AnalysisSummary.ClassMean != 50 {
		t.Error("clone aliases the original")
	}
}

func TestStatus(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("QUEUED").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestTokenPair(t *testing.T) {
	if !(TokenPair{}).Empty() || (TokenPair{}).Valid() {
		t.Error("zero pair must be empty and invalid")
	}
	if (TokenPair{Access: "a"}).Valid() {
		t.Error("half pair must be invalid")
	}
	if !(TokenPair{Access: "a", Refresh: "r"}).Valid() {
		t.Error("full pair must be valid")
	}
}
