package runwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/pkg/logger"
)

// State is the poller lifecycle state
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateErrored   State = "errored"
)

// ErrAlreadyStarted indicates Start was called on a live poller
var ErrAlreadyStarted = errors.New("poller already started")

// RunAPI is the slice of the run API the poller needs.
// *remote.Runs satisfies it.
type RunAPI interface {
	Get(ctx context.Context, runID string) (*models.ApplicationRun, error)
	Cancel(ctx context.Context, runID string) error
	SubmitReview(ctx context.Context, runID string, approved bool, comment string) error
}

// Config tunes the polling loop
type Config struct {
	Interval    time.Duration // fixed poll interval
	MaxFailures int           // consecutive failures before Errored
	BackoffMin  time.Duration // first retry delay after a failure
	BackoffMax  time.Duration // retry delay cap
}

// withDefaults fills zero fields with the standard tuning
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// NoticeKind classifies poller notifications
type NoticeKind string

const (
	NoticeTerminal NoticeKind = "terminal"
	NoticeWaiting  NoticeKind = "waiting"
	NoticeError    NoticeKind = "error"
)

// Notice is a poller notification surfaced to the owning view
type Notice struct {
	Kind   NoticeKind       `json:"kind"`
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status,omitempty"`
	Action *UserAction      `json:"action,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Poller polls one application run and maintains the merged local view.
// It owns its timer: Close is the single deterministic teardown call, and a
// pending poll never outlives the poller.
type Poller struct {
	api   RunAPI
	log   *logger.Logger
	cfg   Config
	runID string

	mu          sync.Mutex
	state       State
	snapshot    *models.ApplicationRun
	action      *UserAction
	gateOpen    bool
	noticedRaw  string // last user_action_required we notified for
	approvedRaw string // review ask already submitted; stale snapshots must not reopen the gate
	failures    int
	lastErr     error
	cancel      context.CancelFunc
	done        chan struct{}

	notices chan Notice
	kick    chan struct{}
}

// NewPoller creates a poller for runID. Call Start to begin polling.
func NewPoller(api RunAPI, runID string, cfg Config, log *logger.Logger) *Poller {
	return &Poller{
		api:     api,
		log:     log,
		cfg:     cfg.withDefaults(),
		runID:   runID,
		state:   StateIdle,
		notices: make(chan Notice, 16),
		kick:    make(chan struct{}, 1),
	}
}

// RunID returns the id of the watched run
func (p *Poller) RunID() string { return p.runID }

// Notices returns the notification channel. Sends never block the loop;
// if the consumer falls behind, older notices are dropped.
func (p *Poller) Notices() <-chan Notice { return p.notices }

// Start begins the poll loop. The first fetch happens immediately, then on
// the configured interval. Start is legal from Idle and from Errored (retry).
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateIdle, StateErrored:
	default:
		return fmt.Errorf("start from %s: %w", p.state, ErrAlreadyStarted)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StatePolling
	p.failures = 0
	p.lastErr = nil

	go p.loop(loopCtx, p.done)

	p.log.Info("runwatch: polling started", "run_id", p.runID, "interval", p.cfg.Interval)
	return nil
}

// Retry restarts polling after the failure cap was reached. The last good
// snapshot is kept; only the failure counter resets.
func (p *Poller) Retry(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateErrored {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.Start(ctx)
}

// Pause suspends fetching without tearing down the loop
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePolling {
		p.state = StatePaused
		p.log.Debug("runwatch: polling paused", "run_id", p.runID)
	}
}

// Resume clears the waiting sub-state and continues the same interval loop.
// It is idempotent: repeated calls (repeated clicks) have no extra effect.
func (p *Poller) Resume() {
	p.mu.Lock()
	if p.state == StatePaused {
		p.state = StatePolling
	}
	p.action = nil
	p.gateOpen = false
	p.mu.Unlock()

	// Wake the loop for an immediate poll; drop if one is already pending
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Abort cancels the run remotely. Polling continues so the aborted status
// arrives through the normal snapshot path.
func (p *Poller) Abort(ctx context.Context) error {
	if err := p.api.Cancel(ctx, p.runID); err != nil {
		return err
	}
	p.log.Info("runwatch: run abort requested", "run_id", p.runID)
	p.Resume()
	return nil
}

// Close tears the poller down: the timer is cleared and the loop exits.
// Safe to call multiple times and before Start.
func (p *Poller) Close() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.mu.Lock()
	if p.state == StatePolling || p.state == StatePaused {
		p.state = StateIdle
	}
	p.mu.Unlock()
}

// State returns the current lifecycle state
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the merged run view; nil before the first
// successful poll. The last good snapshot survives transient failures.
func (p *Poller) Snapshot() *models.ApplicationRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return nil
	}
	copied := *p.snapshot
	copied.LogEntries = append([]models.LogEntry(nil), p.snapshot.LogEntries...)
	return &copied
}

// Action returns the classified waiting condition, nil when not waiting
func (p *Poller) Action() *UserAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.action == nil {
		return nil
	}
	a := *p.action
	return &a
}

// LastError returns the error that drove the poller to Errored
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// loop is the single poll goroutine; exactly one poll is in flight at a time
func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		if p.State() == StatePaused {
			timer.Reset(p.cfg.Interval)
			continue
		}

		next, alive := p.pollOnce(ctx)
		if !alive {
			return
		}
		timer.Reset(next)
	}
}

// pollOnce performs one fetch-and-merge. It returns the delay before the
// next poll and whether the loop should stay alive.
func (p *Poller) pollOnce(ctx context.Context) (time.Duration, bool) {
	snap, err := p.api.Get(ctx, p.runID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false
		}
		return p.handleFailure(err)
	}

	p.mu.Lock()
	p.failures = 0
	p.snapshot = MergeSnapshot(p.snapshot, snap)
	merged := p.snapshot

	if merged.Status.Terminal() {
		p.state = StateCompleted
		p.action = nil
		p.gateOpen = false
		status := merged.Status
		p.mu.Unlock()

		p.log.Info("runwatch: run reached terminal status",
			"run_id", p.runID, "status", status)
		p.notify(Notice{Kind: NoticeTerminal, RunID: p.runID, Status: status})
		return 0, false
	}

	if merged.Status == models.RunStatusWaitingForUser && merged.UserAction != "" {
		kind := Classify(merged.UserAction)
		p.action = &UserAction{Kind: kind, Raw: merged.UserAction, URL: merged.UserActionURL}
		if merged.UserAction != p.approvedRaw {
			// A different ask supersedes any earlier approval
			p.approvedRaw = ""
		}
		// The server may lag behind a submitted review and keep reporting
		// the same ask; that must not reopen the gate
		p.gateOpen = kind == ActionReview && p.approvedRaw == ""

		changed := p.noticedRaw != merged.UserAction
		p.noticedRaw = merged.UserAction
		action := *p.action
		p.mu.Unlock()

		if changed {
			p.log.Info("runwatch: run waiting for user",
				"run_id", p.runID, "action", action.Raw, "kind", action.Kind)
			p.notify(Notice{
				Kind: NoticeWaiting, RunID: p.runID,
				Status: models.RunStatusWaitingForUser, Action: &action,
			})
		}
		return p.cfg.Interval, true
	}

	p.action = nil
	p.gateOpen = false
	p.noticedRaw = ""
	p.approvedRaw = ""
	p.mu.Unlock()
	return p.cfg.Interval, true
}

// handleFailure counts a transient failure and either schedules a backoff
// retry or escalates to Errored. The last good snapshot stays visible.
func (p *Poller) handleFailure(err error) (time.Duration, bool) {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.lastErr = err

	if failures >= p.cfg.MaxFailures {
		p.state = StateErrored
		p.mu.Unlock()

		p.log.Error("runwatch: failure cap reached, polling stopped",
			"run_id", p.runID, "failures", failures, "error", err)
		p.notify(Notice{Kind: NoticeError, RunID: p.runID, Error: err.Error()})
		return 0, false
	}
	p.mu.Unlock()

	delay := p.backoff(failures)
	p.log.Warn("runwatch: poll failed, backing off",
		"run_id", p.runID, "failures", failures, "delay", delay, "error", err)
	return delay, true
}

// backoff returns the capped exponential delay for the nth consecutive failure
func (p *Poller) backoff(failures int) time.Duration {
	delay := p.cfg.BackoffMin
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.cfg.BackoffMax {
			return p.cfg.BackoffMax
		}
	}
	if delay > p.cfg.BackoffMax {
		delay = p.cfg.BackoffMax
	}
	return delay
}

// notify delivers a notice without ever blocking the loop
func (p *Poller) notify(n Notice) {
	select {
	case p.notices <- n:
	default:
		p.log.Warn("runwatch: notice dropped, consumer behind",
			"run_id", p.runID, "kind", n.Kind)
	}
}
