package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/models"
)

// State is the poller's position in the job lifecycle.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StatePolling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSubmitting:
		return "Submitting"
	case StatePolling:
		return "Polling"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether s is Completed or Failed.
func (s State) IsTerminal() bool { return s == StateCompleted || s == StateFailed }

var (
	// ErrAlreadyStarted is returned when Start or Track is called on a poller
	// that has already been used. Create a new Poller per submission.
	ErrAlreadyStarted = errors.New("poller already started")
	// ErrCancelled is reported by Err after Cancel stopped a running poller.
	ErrCancelled = errors.New("job tracking cancelled")
)

// Querier reads one job. *api.Client implements it.
type Querier interface {
	GetExamUpload(ctx context.Context, id models.ID) (*models.ExamUpload, error)
}

// JobFailedError is the terminal error for a job the server marked FAILED.
type JobFailedError struct {
	JobID   models.ID
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// PollerOptions configures a Poller. Submitter is only needed for Start.
type PollerOptions struct {
	Submitter      *Submitter
	Client         Querier
	Interval       time.Duration // defaults to constants.JobPollInterval
	RequestTimeout time.Duration // defaults to constants.PollRequestTimeout
	Bus            *events.EventBus
	Logger         *logging.Logger
}

// Poller drives one job from submission to a terminal state. It is single-use:
// once started it never returns to Submitting. At most one polling task exists
// at a time; its cancel func is replaced only under mu and every response is
// checked against the generation it was issued under before it is applied.
type Poller struct {
	submitter      *Submitter
	client         Querier
	interval       time.Duration
	requestTimeout time.Duration
	bus            *events.EventBus
	logger         *logging.Logger

	mu      sync.Mutex
	started bool
	state   State
	jobID   models.ID
	title   string
	job     *models.ExamUpload
	message string
	err     error
	polls   int
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates an idle poller.
func NewPoller(opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = constants.JobPollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = constants.PollRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Poller{
		submitter:      opts.Submitter,
		client:         opts.Client,
		interval:       opts.Interval,
		requestTimeout: opts.RequestTimeout,
		bus:            opts.Bus,
		logger:         opts.Logger,
		done:           make(chan struct{}),
	}
}

// Start submits req and, on success, begins polling in the background. It
// returns once the submission has resolved. On failure the poller is Failed
// and the submission error is returned.
func (p *Poller) Start(ctx context.Context, req SubmitRequest) (*models.ExamUpload, error) {
	if p.submitter == nil {
		return nil, fmt.Errorf("poller has no submitter")
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	p.started = true
	p.title = req.Title
	taskCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	gen := p.gen
	p.setStateLocked(StateSubmitting, "uploading")
	p.mu.Unlock()

	job, err := p.submitter.Submit(taskCtx, req)

	p.mu.Lock()
	if p.gen != gen {
		// Cancelled while the upload was in flight.
		p.mu.Unlock()
		cancel()
		return nil, ErrCancelled
	}
	if err != nil {
		p.finishLocked(StateFailed, failureMessage(err), err)
		p.mu.Unlock()
		return nil, err
	}
	p.jobID = job.ID
	p.job = job.Clone()
	p.setStateLocked(StatePolling, job.Message)
	p.mu.Unlock()

	go p.run(taskCtx, gen, job.ID)
	return job.Clone(), nil
}

// Track begins polling an existing job without submitting anything.
func (p *Poller) Track(ctx context.Context, id models.ID) error {
	if id == "" {
		return api.Validation("track job", "job id is required")
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.jobID = id
	taskCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	gen := p.gen
	p.setStateLocked(StatePolling, "")
	p.mu.Unlock()

	go p.run(taskCtx, gen, id)
	return nil
}

// run queries the job every interval until a terminal state, cancellation or a
// superseded generation.
func (p *Poller) run(ctx context.Context, gen uint64, id models.ID) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.abandon(gen)
			return
		case <-ticker.C:
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		job, err := p.client.GetExamUpload(reqCtx, id)
		cancel()

		if !p.apply(ctx, gen, job, err) {
			return
		}
	}
}

// apply folds one poll result into the state machine. It returns false when
// polling must stop.
func (p *Poller) apply(ctx context.Context, gen uint64, job *models.ExamUpload, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen || p.state != StatePolling {
		p.logger.Debug().Str("job_id", p.jobID.String()).Msg("discarding stale poll result")
		return false
	}
	if err != nil && ctx.Err() != nil {
		p.finishLocked(StateIdle, "cancelled", ErrCancelled)
		return false
	}

	p.polls++
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", p.jobID.String()).Msg("status query failed")
		p.finishLocked(StateFailed, failureMessage(err), err)
		return false
	}

	p.job = job.Clone()
	if p.title == "" {
		p.title = job.Title
	}

	switch job.Status {
	case models.StatusCompleted:
		p.finishLocked(StateCompleted, job.Message, nil)
		return false
	case models.StatusFailed:
		p.finishLocked(StateFailed, job.Message, &JobFailedError{JobID: job.ID, Message: job.Message})
		return false
	case models.StatusPending, models.StatusProcessing:
		p.message = job.Message
		p.bus.PublishJobProgress(p.jobID.String(), string(job.Status), job.Message, p.polls)
		return true
	default:
		p.finishLocked(StateFailed, fmt.Sprintf("unexpected job status %q", job.Status),
			&api.Error{Kind: api.KindQuery, Op: "get exam " + p.jobID.String(), Detail: fmt.Sprintf("unexpected job status %q", job.Status)})
		return false
	}
}

// abandon moves a poller whose parent context ended back to Idle.
func (p *Poller) abandon(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen && p.state == StatePolling {
		p.finishLocked(StateIdle, "cancelled", ErrCancelled)
	}
}

// Cancel stops tracking. A running poller returns to Idle; a terminal one is
// left as is. Any in-flight request is cancelled and its result discarded.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.IsTerminal() || !p.started || p.state == StateIdle {
		return
	}
	p.finishLocked(StateIdle, "cancelled", ErrCancelled)
}

// finishLocked leaves the running states: bumps the generation, cancels the
// task and releases waiters. Callers hold mu.
func (p *Poller) finishLocked(state State, message string, err error) {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.err = err
	p.setStateLocked(state, message)
	close(p.done)
}

func (p *Poller) setStateLocked(state State, message string) {
	old := p.state
	p.state = state
	p.message = message
	p.logger.Debug().
		Str("job_id", p.jobID.String()).
		Str("from", old.String()).
		Str("to", state.String()).
		Msg("job state changed")
	p.bus.PublishJobState(p.jobID.String(), p.title, old.String(), state.String(), message)
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// JobID returns the tracked job id, empty before submission succeeds.
func (p *Poller) JobID() models.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

// Message returns the latest progress or failure message.
func (p *Poller) Message() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.message
}

// Snapshot returns a copy of the latest job record, or nil.
func (p *Poller) Snapshot() *models.ExamUpload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job.Clone()
}

// Polls returns the number of status responses applied so far.
func (p *Poller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// Err returns the terminal error: nil for Completed, the failure for Failed and
// ErrCancelled after Cancel.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the poller reaches a terminal state or is cancelled.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Wait blocks until Done or ctx ends, then returns Err.
func (p *Poller) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureMessage(err error) string {
	return api.Message(err)
}
