package progress

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

type recordingReporter struct {
	total    int64
	desc     string
	updates  []int64
	finished int
}

func (r *recordingReporter) Start(total int64, description string) { r.total, r.desc = total, description }
func (r *recordingReporter) Update(current int64)                  { r.updates = append(r.updates, current) }
func (r *recordingReporter) Finish()                               { r.finished++ }
func (r *recordingReporter) Error(error)                           {}
func (r *recordingReporter) SetDescription(string)                 {}

func TestUploadWrapper(t *testing.T) {
	rec := &recordingReporter{}
	wrap := UploadWrapper(rec, "Uploading term1.csv")

	body := strings.Repeat("x", 10)
	r := wrap(strings.NewReader(body), int64(len(body)))
	if rec.total != 10 || rec.desc != "Uploading term1.csv" {
		t.Errorf("Start(%d, %q)", rec.total, rec.desc)
	}

	got, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil || string(got) != body {
		t.Fatalf("read %q, %v", got, err)
	}
	if last := rec.updates[len(rec.updates)-1]; last != 10 {
		t.Errorf("last update = %d", last)
	}
	if rec.finished != 1 {
		t.Errorf("Finish called %d times", rec.finished)
	}
}

func TestCLIProgress_WritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgressTo(&buf)
	p.Start(100, "upload")
	p.Update(100)
	p.Finish()
	if !strings.Contains(buf.String(), "upload") {
		t.Errorf("bar output missing description: %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	bar := Discard.AddFileBar(1, "reports.zip", "/tmp/reports.zip", -1)
	r := bar.Wrap(strings.NewReader("abc"))
	b, _ := io.ReadAll(r)
	if string(b) != "abc" {
		t.Errorf("Wrap altered data: %q", b)
	}
	bar.SetRetry(1)
	bar.Complete(nil)
	Discard.Wait()
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"reports.zip", "reports.zip"},
		{"a/reports.zip", "reports.zip"},
		{"/home/u/downloads/abc/reports.zip", "…/abc/reports.zip"},
	}
	for _, tt := range tests {
		if got := truncatePath(tt.path, 2); got != tt.want {
			t.Errorf("truncatePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
