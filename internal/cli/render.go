package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/grading"
	"github.com/examlytics/examctl/internal/models"
)

const timeLayout = "2006-01-02 15:04"

func printJobLine(w io.Writer, job models.ExamUpload) {
	fmt.Fprintf(w, "%-8s %-11s %-16s %s\n", job.ID, job.Status, formatTime(job.UploadedAt), job.Title)
}

func printJobDetails(w io.Writer, job *models.ExamUpload) {
	fmt.Fprintf(w, "Job Details:\n")
	fmt.Fprintf(w, "  ID:       %s\n", job.ID)
	fmt.Fprintf(w, "  Title:    %s\n", job.Title)
	fmt.Fprintf(w, "  Status:   %s\n", job.Status)
	if job.Message != "" {
		fmt.Fprintf(w, "  Message:  %s\n", job.Message)
	}
	fmt.Fprintf(w, "  Uploaded: %s", formatTime(job.UploadedAt))
	if job.UploadedByUsername != "" {
		fmt.Fprintf(w, " by %s", job.UploadedByUsername)
	}
	fmt.Fprintln(w)
	if job.CustomIgnoreColumns != "" {
		fmt.Fprintf(w, "  Ignored:  %s\n", job.CustomIgnoreColumns)
	}

	printSummary(w, job)

	if artifacts := job.Artifacts(); len(artifacts) > 0 {
		fmt.Fprintln(w, "\nArtifacts:")
		for _, a := range artifacts {
			fmt.Fprintf(w, "  %-15s %s\n", a.Name, a.URL)
		}
	}
}

func printSummary(w io.Writer, job *models.ExamUpload) {
	s := job.Summary()
	if s == nil {
		return
	}
	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintf(w, "  Students:    %d\n", s.StudentCount)
	fmt.Fprintf(w, "  Class mean:  %s\n", strconv.FormatFloat(s.ClassMean, 'f', -1, 64))
	fmt.Fprintf(w, "  Pass rate:   %s\n", models.FormatPercent(s.PassRate))
	if s.TopStudent != "" {
		fmt.Fprintf(w, "  Top student: %s\n", s.TopStudent)
	}
}

func printRules(w io.Writer, s *grading.Scheme) {
	fmt.Fprintf(w, "Grading scheme (%s):\n", s.Tag())
	fmt.Fprintf(w, "  %-3s %-6s %-6s %-6s %-7s %s\n", "#", "MIN", "MAX", "GRADE", "POINTS", "REMARK")
	for i, r := range s.Rules() {
		fmt.Fprintf(w, "  %-3d %-6s %-6s %-6s %-7s %s\n", i, num(r.Min), num(r.Max), r.Grade, num(r.Points), r.Remark)
	}
}

func printWarnings(w io.Writer, warnings []grading.Warning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "⚠️  %s\n", warn)
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// followJob prints poller transitions and progress messages until ctx ends,
// then flushes whatever is still buffered. Repeated messages print once.
func followJob(ctx context.Context, ch <-chan events.Event, w io.Writer) {
	var last string
	emit := func(ev events.Event) {
		var text string
		switch e := ev.(type) {
		case *events.JobStateEvent:
			text = e.NewState
			if e.Message != "" {
				text += " - " + e.Message
			}
		case *events.JobProgressEvent:
			text = e.Status
			if e.Message != "" {
				text += " - " + e.Message
			}
		default:
			return
		}
		if text == last {
			return
		}
		last = text
		fmt.Fprintf(w, "[%s] %s\n", ev.Timestamp().Format("15:04:05"), text)
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			emit(ev)
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					emit(ev)
				default:
					return
				}
			}
		}
	}
}
