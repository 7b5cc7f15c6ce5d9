// Package models defines the data exchanged with the exam-analysis service.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the server-side processing state of an exam upload.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ID is an opaque server-assigned identifier. The backend emits integers today;
// strings are accepted too so the client never depends on the representation.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// AnalysisSummary holds the headline figures of a completed analysis.
type AnalysisSummary struct {
	StudentCount int     `json:"student_count"`
	ClassMean    float64 `json:"class_mean"`
	PassRate     float64 `json:"pass_rate"`
	TopStudent   string  `json:"top_student"`
}

// ExamUpload is one analysis job as returned by /api/analytics/exam-uploads/.
// Artifact fields and the summary are only meaningful once Status is COMPLETED.
type ExamUpload struct {
	ID                  ID               `json:"id"`
	Title               string           `json:"title"`
	Slug                string           `json:"slug,omitempty"`
	FileURL             string           `json:"file_url,omitempty"`
	UploadedByUsername  string           `json:"uploaded_by_username,omitempty"`
	UploadedAt          time.Time        `json:"uploaded_at"`
	UpdatedAt           *time.Time       `json:"updated_at,omitempty"`
	Status              Status           `json:"status"`
	Message             string           `json:"message"`
	AnalysisSummary     *AnalysisSummary `json:"analysis_summary,omitempty"`
	ProcessedFile       *string          `json:"processed_file,omitempty"`
	ReportsZip          *string          `json:"reports_zip,omitempty"`
	SubjectChart        *string          `json:"subject_chart,omitempty"`
	PassRateChart       *string          `json:"passrate_chart,omitempty"`
	GradingScheme       json.RawMessage  `json:"grading_scheme,omitempty"`
	CustomIgnoreColumns string           `json:"custom_ignore_columns,omitempty"`
}

// UnmarshalJSON tolerates the shapes the backend produces for fields that are
// unset: null message, empty-object summary and empty-string artifact URLs.
func (e *ExamUpload) UnmarshalJSON(data []byte) error {
	type plain ExamUpload
	aux := struct {
		*plain
		Message         *string         `json:"message"`
		AnalysisSummary json.RawMessage `json:"analysis_summary"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Message = ""
	if aux.Message != nil {
		e.Message = *aux.Message
	}
	e.AnalysisSummary = nil
	raw := bytes.TrimSpace(aux.AnalysisSummary)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("{}")) {
		var s AnalysisSummary
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("analysis_summary: %w", err)
		}
		e.AnalysisSummary = &s
	}
	for _, p := range []**string{&e.ProcessedFile, &e.ReportsZip, &e.SubjectChart, &e.PassRateChart} {
		if *p != nil && **p == "" {
			*p = nil
		}
	}
	return nil
}

// Artifact names used for downloads and display.
const (
	ArtifactProcessedFile = "processed_file"
	ArtifactReportsZip    = "reports_zip"
	ArtifactSubjectChart  = "subject_chart"
	ArtifactPassRateChart = "passrate_chart"
)

// Artifact is a produced output of a completed job.
type Artifact struct {
	Name string
	URL  string
}

// Artifacts returns the produced artifacts in a stable order. It is empty
// unless the job is COMPLETED; absent artifacts are skipped.
func (e *ExamUpload) Artifacts() []Artifact {
	if e.Status != StatusCompleted {
		return nil
	}
	var out []Artifact
	add := func(name string, url *string) {
		if url != nil && *url != "" {
			out = append(out, Artifact{Name: name, URL: *url})
		}
	}
	add(ArtifactProcessedFile, e.ProcessedFile)
	add(ArtifactReportsZip, e.ReportsZip)
	add(ArtifactSubjectChart, e.SubjectChart)
	add(ArtifactPassRateChart, e.PassRateChart)
	return out
}

// Summary returns the analysis summary once the job completed, nil otherwise.
func (e *ExamUpload) Summary() *AnalysisSummary {
	if e.Status != StatusCompleted {
		return nil
	}
	return e.AnalysisSummary
}

// Clone returns a deep copy so snapshots handed out never alias internal state.
func (e *ExamUpload) Clone() *ExamUpload {
	if e == nil {
		return nil
	}
	c := *e
	if e.AnalysisSummary != nil {
		s := *e.AnalysisSummary
		c.AnalysisSummary = &s
	}
	if e.UpdatedAt != nil {
		t := *e.UpdatedAt
		c.UpdatedAt = &t
	}
	dup := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	c.ProcessedFile = dup(e.ProcessedFile)
	c.ReportsZip = dup(e.ReportsZip)
	c.SubjectChart = dup(e.SubjectChart)
	c.PassRateChart = dup(e.PassRateChart)
	if e.GradingScheme != nil {
		c.GradingScheme = append(json.RawMessage(nil), e.GradingScheme...)
	}
	return &c
}

// FormatPercent renders a pass rate the way the dashboard shows it.
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
