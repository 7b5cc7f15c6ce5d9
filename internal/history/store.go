// Package history keeps the list of previously submitted exam uploads.
package history

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/models"
)

// Client is the part of api.Client the store needs.
type Client interface {
	ListExamUploads(ctx context.Context) ([]models.ExamUpload, error)
	DeleteExamUpload(ctx context.Context, id models.ID) error
}

// Trigger says why a refresh happens. TriggerInitial shows a loading
// indicator; any later trigger refreshes quietly.
type Trigger int

const TriggerInitial Trigger = 0

// Store is an observable, thread-safe copy of the server's job list. Order is
// always the server's order.
type Store struct {
	client Client
	bus    *events.EventBus
	logger *logging.Logger

	mu        sync.RWMutex
	items     []models.ExamUpload
	loading   bool
	loaded    bool
	lastError error
	fetchGen  uint64
	pending   map[models.ID]struct{} // deletes in flight
}

// NewStore creates an empty store. bus and logger may be nil.
func NewStore(client Client, bus *events.EventBus, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		client:  client,
		bus:     bus,
		logger:  logger,
		items:   make([]models.ExamUpload, 0),
		pending: make(map[models.ID]struct{}),
	}
}

// List fetches every job and returns them in server order.
func (s *Store) List(ctx context.Context) ([]models.ExamUpload, error) {
	if err := s.Refresh(ctx, TriggerInitial); err != nil {
		return nil, err
	}
	return s.Items(), nil
}

// Refresh re-fetches the list. Only TriggerInitial sets Loading while the
// request runs. A result overtaken by a newer refresh is dropped.
func (s *Store) Refresh(ctx context.Context, trigger Trigger) error {
	s.mu.Lock()
	s.fetchGen++
	gen := s.fetchGen
	if trigger == TriggerInitial {
		s.loading = true
	}
	s.mu.Unlock()

	items, err := s.client.ListExamUploads(ctx)

	s.mu.Lock()
	if gen != s.fetchGen {
		s.mu.Unlock()
		s.logger.Debug().Int("trigger", int(trigger)).Msg("discarding superseded history refresh")
		return err
	}
	s.loading = false
	if err != nil {
		s.lastError = err
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("failed to load history")
		s.bus.PublishHistory(events.EventHistoryLoaded, "", 0, err)
		return err
	}

	// A delete in flight must not be undone by a list fetched before it landed.
	kept := make([]models.ExamUpload, 0, len(items))
	for _, it := range items {
		if _, deleting := s.pending[it.ID]; deleting {
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
	s.loaded = true
	s.lastError = nil
	count := len(kept)
	s.mu.Unlock()

	s.logger.Debug().Int("count", count).Int("trigger", int(trigger)).Msg("history refreshed")
	s.bus.PublishHistory(events.EventHistoryLoaded, "", count, nil)
	return nil
}

// Delete removes id locally before the DELETE is sent. If the request fails
// the job is put back at its previous position and the error returned. A 404
// counts as success because the job is already gone.
func (s *Store) Delete(ctx context.Context, id models.ID) error {
	if id == "" {
		return api.Validation("delete exam", "job id is required")
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	var removed *models.ExamUpload
	if idx >= 0 {
		item := s.items[idx]
		removed = &item
		s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	}
	s.pending[id] = struct{}{}
	count := len(s.items)
	s.mu.Unlock()

	s.bus.PublishHistory(events.EventHistoryRemoved, id.String(), count, nil)

	err := s.client.DeleteExamUpload(ctx, id)
	if err != nil && api.StatusOf(err) == http.StatusNotFound {
		s.logger.Debug().Str("job_id", id.String()).Msg("job already deleted on server")
		err = nil
	}

	s.mu.Lock()
	delete(s.pending, id)
	if err == nil {
		s.mu.Unlock()
		s.logger.Info().Str("job_id", id.String()).Msg("job deleted")
		return nil
	}

	if removed != nil && s.indexLocked(id) < 0 {
		pos := idx
		if pos > len(s.items) {
			pos = len(s.items)
		}
		s.items = append(s.items[:pos], append([]models.ExamUpload{*removed}, s.items[pos:]...)...)
	}
	count = len(s.items)
	s.mu.Unlock()

	s.logger.Warn().Err(err).Str("job_id", id.String()).Msg("delete failed, job restored")
	s.bus.PublishHistory(events.EventHistoryRestore, id.String(), count, err)
	return fmt.Errorf("failed to delete job %s: %w", id, err)
}

func (s *Store) indexLocked(id models.ID) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Items returns a copy of the current list.
func (s *Store) Items() []models.ExamUpload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.ExamUpload, len(s.items))
	copy(result, s.items)
	return result
}

// Get returns the job with id from the local list.
func (s *Store) Get(id models.ID) (models.ExamUpload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return models.ExamUpload{}, false
}

// Len returns the number of jobs held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Loading reports whether an initial load is running.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Loaded reports whether at least one refresh succeeded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// LastError returns the error of the last refresh, or nil.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}
