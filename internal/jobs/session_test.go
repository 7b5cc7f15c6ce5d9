package jobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/config"
	"github.com/examlytics/examctl/internal/models"
	"github.com/examlytics/examctl/internal/session"
)

// newLiveStack wires a real api.Client and session.Manager to h, with a stored
// session and a counting unauthorized callback.
func newLiveStack(t *testing.T, h http.Handler) (*api.Client, *session.Manager, *atomic.Int32) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.APIBaseURL = srv.URL
	client, err := api.NewClient(cfg, api.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}

	store := session.NewMemoryStore()
	if err := store.Save(context.Background(), models.TokenPair{Access: "acc-1", Refresh: "ref-1"}); err != nil {
		t.Fatal(err)
	}
	mgr, err := session.NewManager(context.Background(), session.Options{Store: store, Auth: client})
	if err != nil {
		t.Fatal(err)
	}
	client.SetAuthorizer(mgr)

	var navigations atomic.Int32
	mgr.OnUnauthorized(func() { navigations.Add(1) })
	return client, mgr, &navigations
}

func newLivePoller(client *api.Client) *Poller {
	return NewPoller(PollerOptions{
		Submitter: NewSubmitter(client),
		Client:    client,
		Interval:  testInterval,
	})
}

func TestPoller_ServerErrorFailsWithoutRetry(t *testing.T) {
	var gets atomic.Int32
	client, _, _ := newLiveStack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gets.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"id":"9","title":"T","status":"COMPLETED"}`)
	}))

	p := newLivePoller(client)
	if err := p.Track(context.Background(), "9"); err != nil {
		t.Fatal(err)
	}
	err := waitDone(t, p)

	if p.State() != StateFailed {
		t.Fatalf("State() = %s, want Failed", p.State())
	}
	if api.KindOf(err) != api.KindQuery {
		t.Errorf("Wait() = %v, want query error", err)
	}
	if gets.Load() != 1 {
		t.Errorf("server saw %d status queries, want 1", gets.Load())
	}
}

func TestPoller_UnauthorizedPollClearsSession(t *testing.T) {
	client, mgr, navigations := newLiveStack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Given token not valid for any token type"}`)
	}))

	p := newLivePoller(client)
	if err := p.Track(context.Background(), "9"); err != nil {
		t.Fatal(err)
	}
	err := waitDone(t, p)

	if p.State() != StateFailed || !api.IsAuth(err) {
		t.Fatalf("state=%s err=%v, want Failed with auth error", p.State(), err)
	}
	if tokens := mgr.Tokens(); tokens.Access != "" || tokens.Refresh != "" {
		t.Errorf("tokens survived the 401: %+v", tokens)
	}
	if n := navigations.Load(); n != 1 {
		t.Errorf("unauthorized callback ran %d times, want 1", n)
	}
}

func TestPoller_UnauthorizedSubmitClearsSession(t *testing.T) {
	var posts atomic.Int32
	client, mgr, navigations := newLiveStack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))

	p := newLivePoller(client)
	_, err := p.Start(context.Background(), SubmitRequest{Title: "Term 1", File: strings.NewReader("name,math\nA,1\n"), FileName: "t.csv"})
	if !api.IsAuth(err) {
		t.Fatalf("Start() = %v, want auth error", err)
	}
	if p.State() != StateFailed || !api.IsAuth(p.Err()) {
		t.Errorf("state=%s err=%v", p.State(), p.Err())
	}
	if mgr.Authenticated() {
		t.Error("session still present after 401")
	}
	if navigations.Load() != 1 || posts.Load() != 1 {
		t.Errorf("navigations=%d posts=%d, want 1 and 1", navigations.Load(), posts.Load())
	}
}

func TestPoller_SingleUse(t *testing.T) {
	b := &fakeBackend{
		created: &models.ExamUpload{ID: "5", Status: models.StatusPending},
		script:  []func() (*models.ExamUpload, error){status("5", models.StatusProcessing, "")},
	}
	p := newTestPoller(b, nil)
	req := SubmitRequest{Title: "T", File: strings.NewReader("x"), FileName: "x.csv"}
	if _, err := p.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	// Running.
	if _, err := p.Start(context.Background(), req); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	if err := p.Track(context.Background(), "6"); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Track() on a running poller = %v, want ErrAlreadyStarted", err)
	}
	if s := p.State(); s != StatePolling {
		t.Errorf("State() = %s, want Polling", s)
	}

	// Ended.
	p.Cancel()
	if _, err := p.Start(context.Background(), req); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() after Cancel = %v, want ErrAlreadyStarted", err)
	}
	if s := p.State(); s == StateSubmitting || s == StatePolling {
		t.Errorf("State() = %s after a rejected restart", s)
	}
	if b.uploadCount() != 1 || p.JobID() != "5" {
		t.Errorf("uploads=%d job=%s", b.uploadCount(), p.JobID())
	}

	done := newTestPoller(&fakeBackend{script: []func() (*models.ExamUpload, error){status("8", models.StatusCompleted, "")}}, nil)
	if err := done.Track(context.Background(), "8"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, done)
	if err := done.Track(context.Background(), "8"); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Track() on a completed poller = %v, want ErrAlreadyStarted", err)
	}
	if done.State() != StateCompleted {
		t.Errorf("State() = %s, want Completed", done.State())
	}
}
