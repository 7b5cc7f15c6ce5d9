package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/models"
)

const testInterval = 10 * time.Millisecond

// fakeBackend serves a scripted sequence of job snapshots.
type fakeBackend struct {
	mu        sync.Mutex
	created   *models.ExamUpload
	createErr error
	uploads   []api.UploadRequest
	script    []func() (*models.ExamUpload, error)
	queries   atomic.Int32
	block     chan struct{} // when set, GetExamUpload waits on it or ctx
}

func (f *fakeBackend) CreateExamUpload(_ context.Context, req api.UploadRequest) (*models.ExamUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created.Clone(), nil
}

func (f *fakeBackend) GetExamUpload(ctx context.Context, id models.ID) (*models.ExamUpload, error) {
	f.queries.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &api.Error{Kind: api.KindTransport, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return &models.ExamUpload{ID: id, Status: models.StatusProcessing}, nil
	}
	// The last step repeats.
	step := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return step()
}

func (f *fakeBackend) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func status(id models.ID, s models.Status, msg string) func() (*models.ExamUpload, error) {
	return func() (*models.ExamUpload, error) {
		return &models.ExamUpload{ID: id, Status: s, Message: msg}, nil
	}
}

func newTestPoller(b *fakeBackend, bus *events.EventBus) *Poller {
	return NewPoller(PollerOptions{
		Submitter: NewSubmitter(b),
		Client:    b,
		Interval:  testInterval,
		Bus:       bus,
	})
}

func waitDone(t *testing.T, p *Poller) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("poller did not finish; state=%s", p.State())
	}
	return err
}

func TestPoller_CompletedScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	summary := &models.AnalysisSummary{StudentCount: 30, ClassMean: 65.2, PassRate: 80, TopStudent: "Jane"}
	b := &fakeBackend{
		created: &models.ExamUpload{ID: "abc", Title: "Term 1", Status: models.StatusPending},
		script: []func() (*models.ExamUpload, error){
			status("abc", models.StatusProcessing, "Analyzing"),
			func() (*models.ExamUpload, error) {
				return &models.ExamUpload{ID: "abc", Title: "Term 1", Status: models.StatusCompleted, AnalysisSummary: summary}, nil
			},
		},
	}
	bus := events.NewEventBus(64)
	defer bus.Close()
	states := bus.Subscribe(events.EventJobState)

	p := newTestPoller(b, bus)
	if p.State() != StateIdle {
		t.Fatalf("initial state = %s", p.State())
	}

	job, err := p.Start(context.Background(), SubmitRequest{
		Title:    "Term 1",
		File:     strings.NewReader("name,math\nJane,80\n"),
		FileName: "term1.csv",
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if job.ID != "abc" || job.Status != models.StatusPending {
		t.Errorf("submitted job = %+v", job)
	}

	if err := waitDone(t, p); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if p.State() != StateCompleted {
		t.Fatalf("State() = %s, want Completed", p.State())
	}
	if diff := cmp.Diff(summary, p.Snapshot().Summary()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	// The default four-band scheme travelled with the upload.
	if got := string(b.uploads[0].GradingScheme); !strings.Contains(got, `"grade":"EE"`) {
		t.Errorf("grading_scheme = %s", got)
	}

	var path []string
	for len(states) > 0 {
		ev := (<-states).(*events.JobStateEvent)
		path = append(path, ev.NewState)
	}
	if diff := cmp.Diff([]string{"Submitting", "Polling", "Completed"}, path); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
}

func TestPoller_FailedScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBackend{
		created: &models.ExamUpload{ID: "abc", Status: models.StatusPending},
		script: []func() (*models.ExamUpload, error){
			status("abc", models.StatusFailed, "Unsupported file format"),
		},
	}
	p := newTestPoller(b, nil)
	if _, err := p.Start(context.Background(), SubmitRequest{Title: "Term 1", File: strings.NewReader("x"), FileName: "x.pdf"}); err != nil {
		t.Fatal(err)
	}

	err := waitDone(t, p)
	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Wait() = %v, want JobFailedError", err)
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %s", p.State())
	}
	if p.Message() != "Unsupported file format" {
		t.Errorf("Message() = %q", p.Message())
	}
}

func TestPoller_NoQueryAfterTerminal(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBackend{
		created: &models.ExamUpload{ID: "7", Status: models.StatusPending},
		script:  []func() (*models.ExamUpload, error){status("7", models.StatusCompleted, "")},
	}
	p := newTestPoller(b, nil)
	if _, err := p.Start(context.Background(), SubmitRequest{Title: "T", File: strings.NewReader("x"), FileName: "x.csv"}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	after := b.queries.Load()
	time.Sleep(5 * testInterval)
	if got := b.queries.Load(); got != after {
		t.Errorf("%d queries issued after the terminal state", got-after)
	}
	if after != 1 {
		t.Errorf("queries = %d, want 1", after)
	}
}

func TestPoller_ValidationFailureSendsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"empty title", SubmitRequest{Title: "  ", File: strings.NewReader("x"), FileName: "x.csv"}},
		{"no file", SubmitRequest{Title: "Term 1"}},
		{"empty file", SubmitRequest{Title: "Term 1", File: strings.NewReader(""), FileName: "x.csv"}},
		{"too large", SubmitRequest{Title: "Term 1", File: strings.NewReader(strings.Repeat("a", 10*1024*1024+1)), FileName: "big.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{created: &models.ExamUpload{ID: "1"}}
			p := newTestPoller(b, nil)

			_, err := p.Start(context.Background(), tt.req)
			if !api.IsValidation(err) {
				t.Fatalf("Start() = %v, want validation error", err)
			}
			if b.uploadCount() != 0 {
				t.Error("a request was sent")
			}
			if p.State() != StateFailed {
				t.Errorf("State() = %s, want Failed", p.State())
			}
			if p.Message() == "" {
				t.Error("failure message is empty")
			}
		})
	}
}

func TestPoller_SubmissionError(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBackend{createErr: &api.Error{Kind: api.KindSubmission, Status: 400, Detail: "File too large."}}
	p := newTestPoller(b, nil)

	_, err := p.Start(context.Background(), SubmitRequest{Title: "T", File: strings.NewReader("x"), FileName: "x.csv"})
	if !api.IsSubmission(err) {
		t.Fatalf("Start() = %v", err)
	}
	if p.State() != StateFailed || p.Message() != "File too large." {
		t.Errorf("state=%s message=%q", p.State(), p.Message())
	}
	if b.queries.Load() != 0 {
		t.Error("poller queried after a failed submission")
	}
}

func TestPoller_QueryErrorFailsFast(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBackend{
		created: &models.ExamUpload{ID: "9", Status: models.StatusPending},
		script: []func() (*models.ExamUpload, error){
			func() (*models.ExamUpload, error) {
				return nil, &api.Error{Kind: api.KindQuery, Status: 500, Detail: "server error"}
			},
		},
	}
	p := newTestPoller(b, nil)
	if _, err := p.Start(context.Background(), SubmitRequest{Title: "T", File: strings.NewReader("x"), FileName: "x.csv"}); err != nil {
		t.Fatal(err)
	}
	if err := waitDone(t, p); !api.IsQuery(err) {
		t.Fatalf("Wait() = %v", err)
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %s", p.State())
	}
}

func TestPoller_CancelDiscardsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBackend{block: make(chan struct{})}
	p := newTestPoller(b, nil)
	if err := p.Track(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for b.queries.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	p.Cancel()
	if err := waitDone(t, p); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait() = %v", err)
	}
	if p.State() != StateIdle {
		t.Errorf("State() = %s, want Idle", p.State())
	}
	if p.Polls() != 0 {
		t.Errorf("in-flight response was applied")
	}

	p.Cancel() // no-op
	if _, err := p.Start(context.Background(), SubmitRequest{Title: "T"}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("restart = %v, want ErrAlreadyStarted", err)
	}
}

func TestPoller_ParentContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBackend{}
	p := newTestPoller(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Track(ctx, "42"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(3 * testInterval)
	cancel()

	if err := waitDone(t, p); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestPoller_TrackProgressEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &fakeBackend{
		script: []func() (*models.ExamUpload, error){
			status("5", models.StatusPending, "Queued"),
			status("5", models.StatusProcessing, "Grading"),
			status("5", models.StatusCompleted, "Done"),
		},
	}
	bus := events.NewEventBus(64)
	defer bus.Close()
	progress := bus.Subscribe(events.EventJobProgress)

	p := newTestPoller(b, bus)
	if err := p.Track(context.Background(), "5"); err != nil {
		t.Fatal(err)
	}
	if err := p.Track(context.Background(), "5"); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Track = %v", err)
	}
	if err := waitDone(t, p); err != nil {
		t.Fatal(err)
	}

	var msgs []string
	for len(progress) > 0 {
		msgs = append(msgs, (<-progress).(*events.JobProgressEvent).Message)
	}
	if diff := cmp.Diff([]string{"Queued", "Grading"}, msgs); diff != "" {
		t.Errorf("progress messages (-want +got):\n%s", diff)
	}
	if p.Polls() != 3 {
		t.Errorf("Polls() = %d", p.Polls())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle: "Idle", StateSubmitting: "Submitting", StatePolling: "Polling",
		StateCompleted: "Completed", StateFailed: "Failed",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", int(s), s.String())
		}
		if s.IsTerminal() != (s == StateCompleted || s == StateFailed) {
			t.Errorf("%s.IsTerminal() wrong", s)
		}
	}
}
