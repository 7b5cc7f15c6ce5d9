package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/models"
)

type fakeClient struct {
	mu        sync.Mutex
	items     []models.ExamUpload
	listErr   error
	listGate  chan struct{}
	deleteErr error
	deleting  chan models.ID // receives the id when DELETE starts
	release   chan struct{}  // DELETE returns once closed
	deleted   []models.ID
}

func (f *fakeClient) ListExamUploads(context.Context) ([]models.ExamUpload, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.ExamUpload(nil), f.items...), nil
}

func (f *fakeClient) DeleteExamUpload(_ context.Context, id models.ID) error {
	if f.deleting != nil {
		f.deleting <- id
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func jobs(ids ...models.ID) []models.ExamUpload {
	out := make([]models.ExamUpload, len(ids))
	for i, id := range ids {
		out[i] = models.ExamUpload{ID: id, Title: "Exam " + id.String(), Status: models.StatusCompleted}
	}
	return out
}

func ids(items []models.ExamUpload) []models.ID {
	out := make([]models.ID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestList_PreservesServerOrder(t *testing.T) {
	c := &fakeClient{items: jobs("3", "1", "2")}
	s := NewStore(c, nil, nil)

	items, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]models.ID{"3", "1", "2"}, ids(items)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if !s.Loaded() || s.Loading() {
		t.Errorf("loaded=%v loading=%v", s.Loaded(), s.Loading())
	}
	if got, ok := s.Get("1"); !ok || got.Title != "Exam 1" {
		t.Errorf("Get(1) = %+v, %v", got, ok)
	}
}

func TestRefresh_LoadingOnlyOnInitial(t *testing.T) {
	c := &fakeClient{items: jobs("1"), listGate: make(chan struct{})}
	s := NewStore(c, nil, nil)

	for _, tt := range []struct {
		trigger Trigger
		want    bool
	}{
		{TriggerInitial, true},
		{Trigger(1), false},
	} {
		done := make(chan error)
		go func() { done <- s.Refresh(context.Background(), tt.trigger) }()

		deadline := time.Now().Add(time.Second)
		for s.Loading() != tt.want && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if s.Loading() != tt.want {
			t.Errorf("trigger %d: Loading() = %v while fetching", tt.trigger, s.Loading())
		}
		c.listGate <- struct{}{}
		if err := <-done; err != nil {
			t.Fatal(err)
		}
		if s.Loading() {
			t.Errorf("trigger %d: still loading after refresh", tt.trigger)
		}
	}
}

func TestRefresh_Error(t *testing.T) {
	want := &api.Error{Kind: api.KindQuery, Status: 500}
	c := &fakeClient{items: jobs("1")}
	s := NewStore(c, nil, nil)
	_ = s.Refresh(context.Background(), TriggerInitial)

	c.listErr = want
	if err := s.Refresh(context.Background(), 1); !errors.Is(err, want) {
		t.Fatalf("Refresh() = %v", err)
	}
	if s.LastError() == nil {
		t.Error("LastError not recorded")
	}
	if s.Len() != 1 {
		t.Error("failed refresh must keep the previous list")
	}
}

func TestDelete_OptimisticBeforeResponse(t *testing.T) {
	c := &fakeClient{
		items:    jobs("1", "2", "3"),
		deleting: make(chan models.ID, 1),
		release:  make(chan struct{}),
	}
	bus := events.NewEventBus(8)
	defer bus.Close()
	removed := bus.Subscribe(events.EventHistoryRemoved)

	s := NewStore(c, bus, nil)
	if _, err := s.List(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error)
	go func() { done <- s.Delete(context.Background(), "2") }()

	select {
	case id := <-c.deleting:
		if id != "2" {
			t.Fatalf("DELETE for %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("DELETE never issued")
	}

	// The request is still outstanding here.
	if diff := cmp.Diff([]models.ID{"1", "3"}, ids(s.Items())); diff != "" {
		t.Errorf("items while DELETE in flight (-want +got):\n%s", diff)
	}
	select {
	case <-removed:
	default:
		t.Error("removal event not published before response")
	}

	close(c.release)
	if err := <-done; err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if diff := cmp.Diff([]models.ID{"1", "3"}, ids(s.Items())); diff != "" {
		t.Errorf("items after delete (-want +got):\n%s", diff)
	}
}

func TestDelete_FailureRestoresPosition(t *testing.T) {
	c := &fakeClient{items: jobs("1", "2", "3"), deleteErr: &api.Error{Kind: api.KindQuery, Status: 500, Detail: "boom"}}
	bus := events.NewEventBus(8)
	defer bus.Close()
	restored := bus.Subscribe(events.EventHistoryRestore)

	s := NewStore(c, bus, nil)
	_, _ = s.List(context.Background())

	err := s.Delete(context.Background(), "2")
	if !api.IsQuery(err) {
		t.Fatalf("Delete() = %v", err)
	}
	if diff := cmp.Diff([]models.ID{"1", "2", "3"}, ids(s.Items())); diff != "" {
		t.Errorf("items after failed delete (-want +got):\n%s", diff)
	}
	select {
	case ev := <-restored:
		if he := ev.(*events.HistoryEvent); he.JobID != "2" || he.Error == nil {
			t.Errorf("restore event = %+v", he)
		}
	default:
		t.Error("no restore event")
	}
}

func TestDelete_NotFoundIsSuccess(t *testing.T) {
	c := &fakeClient{items: jobs("1"), deleteErr: &api.Error{Kind: api.KindQuery, Status: 404}}
	s := NewStore(c, nil, nil)
	_, _ = s.List(context.Background())

	if err := s.Delete(context.Background(), "1"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if s.Len() != 0 {
		t.Error("job should stay removed")
	}
}

func TestRefreshDuringDelete_DoesNotResurrect(t *testing.T) {
	c := &fakeClient{
		items:    jobs("1", "2"),
		deleting: make(chan models.ID, 1),
		release:  make(chan struct{}),
	}
	s := NewStore(c, nil, nil)
	_, _ = s.List(context.Background())

	done := make(chan error)
	go func() { done <- s.Delete(context.Background(), "1") }()
	<-c.deleting

	// The server still lists job 1 because the DELETE has not landed.
	if err := s.Refresh(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("1"); ok {
		t.Error("refresh brought back a job being deleted")
	}

	close(c.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
