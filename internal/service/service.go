package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lei/simple-apply/internal/applyflow"
	"github.com/lei/simple-apply/internal/board"
	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/internal/prefs"
	"github.com/lei/simple-apply/internal/remote"
	"github.com/lei/simple-apply/internal/runwatch"
	"github.com/lei/simple-apply/internal/search"
	"github.com/lei/simple-apply/pkg/logger"
)

// ErrRunNotWatched indicates no poller exists for the requested run
var ErrRunNotWatched = errors.New("run not watched")

// Notification is a user-facing notice: board error toasts and run-poller
// terminal/waiting/error notices share this surface
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const notificationCap = 100

// typeaheadQuiet is the debounce quiet period for search-as-you-type
const typeaheadQuiet = 250 * time.Millisecond

// Service coordinates the orchestration layer: the remote API client, the
// kanban board, apply flows, run pollers and the preferences manager.
type Service struct {
	client    *remote.Client
	board     *board.Board
	flows     *applyflow.Controller
	prefsMgr  *prefs.Manager
	pollerCfg runwatch.Config
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	pollers       map[string]*runwatch.Poller
	notifications []Notification

	searchMu   sync.Mutex
	lastSearch *remote.SearchPage
	typeahead  *search.Debouncer
}

// NewService creates the coordinator. Close must be called on teardown so
// no poller or timer outlives the service.
func NewService(client *remote.Client, pollerCfg runwatch.Config, log *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		client:    client,
		flows:     applyflow.NewController(client.Resumes(), client.Runs(), log),
		prefsMgr:  prefs.NewManager(client.Prefs(), log),
		pollerCfg: pollerCfg,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		pollers:   make(map[string]*runwatch.Poller),
		typeahead: search.NewDebouncer(typeaheadQuiet),
	}
	s.board = board.New(client.Jobs(), log, func(t board.Toast) {
		s.pushNotification(Notification{
			ID: t.ID, Kind: "error", Message: t.Message, CreatedAt: time.Now(),
		})
	})
	return s
}

// getLogger retrieves a request-scoped logger from context or falls back
// to the service logger
func (s *Service) getLogger(ctx context.Context) *logger.Logger {
	if ctxLogger, ok := ctx.Value("logger").(*logger.Logger); ok {
		return ctxLogger
	}
	return s.logger
}

// Close tears down every live poller. A pending poll that outlives its
// owner is a defect; this is the single deterministic teardown call.
func (s *Service) Close() {
	s.cancel()
	s.typeahead.Cancel()

	s.mu.Lock()
	pollers := make([]*runwatch.Poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		pollers = append(pollers, p)
	}
	s.pollers = make(map[string]*runwatch.Poller)
	s.mu.Unlock()

	for _, p := range pollers {
		p.Close()
	}
	s.logger.Info("service: closed", "pollers_stopped", len(pollers))
}

// --- Board ---

// RefreshBoard reloads the board from the Jobs API
func (s *Service) RefreshBoard(ctx context.Context) error {
	logger := s.getLogger(ctx)

	apps, err := s.client.Jobs().List(ctx)
	if err != nil {
		logger.Error("service: board refresh failed", "error", err)
		return fmt.Errorf("refresh board: %w", err)
	}
	s.board.Load(apps)

	logger.Debug("service: board refreshed", "cards", len(apps))
	return nil
}

// Board returns the current column contents
func (s *Service) Board(ctx context.Context) map[models.ApplicationStatus][]models.JobApplication {
	return s.board.Columns()
}

// CreateApplication adds a job to the tracker and places its card
func (s *Service) CreateApplication(ctx context.Context, req remote.JobRequest) (*models.JobApplication, error) {
	logger := s.getLogger(ctx)

	app, err := s.client.Jobs().Create(ctx, req)
	if err != nil {
		logger.Error("service: create application failed", "error", err)
		return nil, err
	}

	if err := s.RefreshBoard(ctx); err != nil {
		// The card exists remotely; a stale board is recoverable
		logger.Warn("service: board refresh after create failed", "error", err)
	}

	logger.Info("service: application created", "id", app.ID, "status", app.Status)
	return app, nil
}

// MoveCard performs a drag-end move, optimistic with rollback
func (s *Service) MoveCard(ctx context.Context, cardID string, target board.Target) error {
	logger := s.getLogger(ctx)

	if err := s.board.Move(ctx, cardID, target); err != nil {
		logger.Warn("service: card move failed", "card_id", cardID, "error", err)
		return err
	}
	return nil
}

// ReorderCard splices a card within its column; session-local only
func (s *Service) ReorderCard(ctx context.Context, cardID, beforeID string) error {
	return s.board.Reorder(cardID, beforeID)
}

// UpdateApplication edits a tracked application's descriptive fields.
// Column membership goes through MoveCard, not through here.
func (s *Service) UpdateApplication(ctx context.Context, id string, req remote.JobRequest) (*models.JobApplication, error) {
	logger := s.getLogger(ctx)

	app, err := s.client.Jobs().Update(ctx, id, req)
	if err != nil {
		logger.Error("service: update application failed", "id", id, "error", err)
		return nil, err
	}

	if err := s.RefreshBoard(ctx); err != nil {
		logger.Warn("service: board refresh after update failed", "error", err)
	}

	logger.Info("service: application updated", "id", id)
	return app, nil
}

// DeleteApplication removes a tracked application and its card
func (s *Service) DeleteApplication(ctx context.Context, id string) error {
	logger := s.getLogger(ctx)

	if err := s.client.Jobs().Delete(ctx, id); err != nil {
		logger.Error("service: delete application failed", "id", id, "error", err)
		return err
	}

	if err := s.RefreshBoard(ctx); err != nil {
		logger.Warn("service: board refresh after delete failed", "error", err)
	}

	logger.Info("service: application deleted", "id", id)
	return nil
}

// --- Apply flow ---

// StartFlow opens an apply-flow session for a job
func (s *Service) StartFlow(ctx context.Context, jobID, externalURL string) (applyflow.FlowState, error) {
	logger := s.getLogger(ctx)

	flow, err := s.flows.Start(ctx, jobID, externalURL)
	if err != nil {
		logger.Error("service: flow start failed", "job_id", jobID, "error", err)
		return applyflow.FlowState{}, err
	}
	return flow.State(), nil
}

// Flow returns a flow's current state
func (s *Service) Flow(ctx context.Context, flowID string) (applyflow.FlowState, error) {
	flow, err := s.flows.Get(flowID)
	if err != nil {
		return applyflow.FlowState{}, err
	}
	return flow.State(), nil
}

// SelectFlowResume chooses a resume at the select step
func (s *Service) SelectFlowResume(ctx context.Context, flowID, resumeID string) (applyflow.FlowState, error) {
	flow, err := s.flows.Get(flowID)
	if err != nil {
		return applyflow.FlowState{}, err
	}
	if err := flow.SelectResume(ctx, resumeID); err != nil {
		return flow.State(), err
	}
	return flow.State(), nil
}

// UploadFlowResume uploads a resume at the upload step
func (s *Service) UploadFlowResume(ctx context.Context, flowID, name string, content []byte) (applyflow.FlowState, error) {
	flow, err := s.flows.Get(flowID)
	if err != nil {
		return applyflow.FlowState{}, err
	}
	if err := flow.AttachUpload(ctx, name, content); err != nil {
		return flow.State(), err
	}
	return flow.State(), nil
}

// SkipFlowTailoring uses the original resume unmodified
func (s *Service) SkipFlowTailoring(ctx context.Context, flowID string) (applyflow.FlowState, error) {
	flow, err := s.flows.Get(flowID)
	if err != nil {
		return applyflow.FlowState{}, err
	}
	if err := flow.Skip(); err != nil {
		return flow.State(), err
	}
	return flow.State(), nil
}

// RegenerateFlowResume replaces the tailored artifact
func (s *Service) RegenerateFlowResume(ctx context.Context, flowID string) (applyflow.FlowState, error) {
	flow, err := s.flows.Get(flowID)
	if err != nil {
		return applyflow.FlowState{}, err
	}
	if err := flow.Regenerate(ctx); err != nil {
		return flow.State(), err
	}
	return flow.State(), nil
}

// AcceptFlowTailoring advances tailor → confirm
func (s *Service) AcceptFlowTailoring(ctx context.Context, flowID string) (applyflow.FlowState, error) {
	flow, err := s.flows.Get(flowID)
	if err != nil {
		return applyflow.FlowState{}, err
	}
	if err := flow.Accept(); err != nil {
		return flow.State(), err
	}
	return flow.State(), nil
}

// ConfirmFlow creates the run and hands it to a poller. A duplicate confirm
// while creation is outstanding is a no-op.
func (s *Service) ConfirmFlow(ctx context.Context, flowID, consentText string) (applyflow.FlowState, error) {
	logger := s.getLogger(ctx)

	flow, err := s.flows.Get(flowID)
	if err != nil {
		return applyflow.FlowState{}, err
	}

	run, err := flow.Confirm(ctx, consentText)
	if err != nil {
		if errors.Is(err, applyflow.ErrCreateInFlight) {
			logger.Debug("service: duplicate confirm ignored", "flow_id", flowID)
			return flow.State(), nil
		}
		return flow.State(), err
	}

	if err := s.WatchRun(ctx, run.ID); err != nil {
		logger.Warn("service: failed to start run watch",
			"run_id", run.ID, "error", err)
	}

	logger.Info("service: flow confirmed", "flow_id", flowID, "run_id", run.ID)
	return flow.State(), nil
}

// --- Resumes ---

// DuplicateResume copies an inventory resume so edits land on the copy
func (s *Service) DuplicateResume(ctx context.Context, resumeID string) (*models.Resume, error) {
	logger := s.getLogger(ctx)

	resume, err := s.client.Resumes().Duplicate(ctx, resumeID)
	if err != nil {
		logger.Error("service: duplicate resume failed", "resume_id", resumeID, "error", err)
		return nil, err
	}

	logger.Info("service: resume duplicated", "resume_id", resumeID, "copy_id", resume.ID)
	return resume, nil
}

// ExportResume downloads the rendered resume document
func (s *Service) ExportResume(ctx context.Context, resumeID string) ([]byte, error) {
	return s.client.Resumes().Export(ctx, resumeID)
}

// --- Runs ---

// RunView is the externally visible state of a watched run
type RunView struct {
	RunID      string                 `json:"run_id"`
	State      runwatch.State         `json:"state"`
	Snapshot   *models.ApplicationRun `json:"snapshot,omitempty"`
	Action     *runwatch.UserAction   `json:"action,omitempty"`
	ReviewOpen bool                   `json:"review_open"`
	Error      string                 `json:"error,omitempty"`
}

// WatchRun ensures a poller is running for runID; idempotent
func (s *Service) WatchRun(ctx context.Context, runID string) error {
	logger := s.getLogger(ctx)

	s.mu.Lock()
	if _, exists := s.pollers[runID]; exists {
		s.mu.Unlock()
		return nil
	}
	p := runwatch.NewPoller(s.client.Runs(), runID, s.pollerCfg, s.logger)
	s.pollers[runID] = p
	s.mu.Unlock()

	// Pollers outlive the request; they stop with the service
	if err := p.Start(s.ctx); err != nil {
		s.mu.Lock()
		delete(s.pollers, runID)
		s.mu.Unlock()
		return err
	}

	go s.drainNotices(p)

	logger.Info("service: watching run", "run_id", runID)
	return nil
}

// poller looks up the live poller for a run
func (s *Service) poller(runID string) (*runwatch.Poller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pollers[runID]
	if !ok {
		return nil, ErrRunNotWatched
	}
	return p, nil
}

// Run returns the merged view of a watched run
func (s *Service) Run(ctx context.Context, runID string) (RunView, error) {
	p, err := s.poller(runID)
	if err != nil {
		return RunView{}, err
	}

	view := RunView{
		RunID:      runID,
		State:      p.State(),
		Snapshot:   p.Snapshot(),
		Action:     p.Action(),
		ReviewOpen: p.ReviewOpen(),
	}
	if lastErr := p.LastError(); lastErr != nil {
		view.Error = lastErr.Error()
	}
	return view, nil
}

// RunEvents fetches the display-only event history of a run
func (s *Service) RunEvents(ctx context.Context, runID string) ([]models.Event, error) {
	return s.client.Runs().Events(ctx, runID)
}

// RunLogs fetches the full log history of a run from the backend. The
// poller snapshot carries only the merged recent window; this is the
// authoritative history for the log drawer.
func (s *Service) RunLogs(ctx context.Context, runID string) ([]models.LogEntry, error) {
	return s.client.Runs().Logs(ctx, runID)
}

// PauseRun suspends polling for a run
func (s *Service) PauseRun(ctx context.Context, runID string) error {
	p, err := s.poller(runID)
	if err != nil {
		return err
	}
	p.Pause()
	return nil
}

// ResumeRun clears the waiting state and continues polling; idempotent
func (s *Service) ResumeRun(ctx context.Context, runID string) error {
	p, err := s.poller(runID)
	if err != nil {
		return err
	}
	p.Resume()
	return nil
}

// CancelRun aborts the run remotely; polling continues until the aborted
// snapshot arrives
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	p, err := s.poller(runID)
	if err != nil {
		return err
	}
	return p.Abort(ctx)
}

// RetryRun restarts polling after the failure cap was reached
func (s *Service) RetryRun(ctx context.Context, runID string) error {
	p, err := s.poller(runID)
	if err != nil {
		return err
	}
	if err := p.Retry(s.ctx); err != nil {
		return err
	}
	go s.drainNotices(p)
	return nil
}

// ReviewRun resolves an open review gate with an approve/reject decision
func (s *Service) ReviewRun(ctx context.Context, runID string, approve bool, comment string) error {
	logger := s.getLogger(ctx)

	p, err := s.poller(runID)
	if err != nil {
		return err
	}

	if approve {
		if err := p.Approve(ctx, comment); err != nil {
			logger.Error("service: review approve failed", "run_id", runID, "error", err)
			return err
		}
		return nil
	}
	if err := p.Reject(ctx); err != nil {
		logger.Error("service: review reject failed", "run_id", runID, "error", err)
		return err
	}
	return nil
}

// drainNotices forwards poller notices into the notification feed until the
// poller's loop ends or the service closes
func (s *Service) drainNotices(p *runwatch.Poller) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-p.Notices():
			msg := ""
			switch n.Kind {
			case runwatch.NoticeTerminal:
				msg = fmt.Sprintf("Run finished: %s", n.Status)
			case runwatch.NoticeWaiting:
				msg = fmt.Sprintf("Action required: %s", n.Action.Raw)
			case runwatch.NoticeError:
				msg = fmt.Sprintf("Run updates unavailable: %s", n.Error)
			}
			s.pushNotification(Notification{
				ID:        uuid.NewString(),
				Kind:      string(n.Kind),
				Message:   msg,
				RunID:     n.RunID,
				CreatedAt: time.Now(),
			})
			if n.Kind == runwatch.NoticeTerminal || n.Kind == runwatch.NoticeError {
				return
			}
		}
	}
}

// pushNotification appends to the bounded notification feed
func (s *Service) pushNotification(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	if len(s.notifications) > notificationCap {
		s.notifications = s.notifications[len(s.notifications)-notificationCap:]
	}
}

// Notifications returns the recent notification feed, newest last
func (s *Service) Notifications(ctx context.Context) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// --- Preferences ---

// Preferences returns the local mirror, loading it on first use
func (s *Service) Preferences(ctx context.Context) (*models.AutoApplyPreferences, error) {
	if current := s.prefsMgr.Current(); current != nil {
		return current, nil
	}
	return s.prefsMgr.Load(ctx)
}

// SavePreferences validates and saves the whole preferences object
func (s *Service) SavePreferences(ctx context.Context, p models.AutoApplyPreferences) error {
	return s.prefsMgr.Save(ctx, p)
}

// EnableAutoApply activates auto-apply when validation passes
func (s *Service) EnableAutoApply(ctx context.Context) error {
	if _, err := s.Preferences(ctx); err != nil {
		return err
	}
	return s.prefsMgr.Enable(ctx)
}

// DisableAutoApply deactivates auto-apply; always allowed
func (s *Service) DisableAutoApply(ctx context.Context) error {
	if _, err := s.Preferences(ctx); err != nil {
		return err
	}
	return s.prefsMgr.Disable(ctx)
}

// --- Search ---

// SearchJobs performs a paginated remote job search
func (s *Service) SearchJobs(ctx context.Context, params remote.SearchParams) (*remote.SearchPage, error) {
	logger := s.getLogger(ctx)

	if params.PageSize <= 0 || params.PageSize > 100 {
		params.PageSize = 20
	}
	if params.Page <= 0 {
		params.Page = 1
	}

	page, err := s.client.Search().Query(ctx, params)
	if err != nil {
		logger.Error("service: job search failed", "error", err)
		return nil, err
	}

	s.searchMu.Lock()
	s.lastSearch = page
	s.searchMu.Unlock()

	logger.Debug("service: job search completed",
		"results", len(page.Items), "page", page.Page)
	return page, nil
}

// SearchTypeahead schedules a debounced remote search. Rapid keystrokes
// collapse into one trailing query; results land in the cached page that
// SearchResults serves.
func (s *Service) SearchTypeahead(ctx context.Context, params remote.SearchParams) {
	if params.PageSize <= 0 || params.PageSize > 100 {
		params.PageSize = 20
	}
	if params.Page <= 0 {
		params.Page = 1
	}

	s.getLogger(ctx).Debug("service: typeahead search scheduled", "query", params.Query)

	s.typeahead.Trigger(func() {
		page, err := s.client.Search().Query(s.ctx, params)
		if err != nil {
			s.logger.Warn("service: typeahead search failed", "error", err)
			return
		}
		s.searchMu.Lock()
		s.lastSearch = page
		s.searchMu.Unlock()
	})
}

// SearchResults returns the last loaded result page, narrowed locally by
// term/remote/employment-type without another round trip
func (s *Service) SearchResults(ctx context.Context, term string, remoteOnly *bool, employmentType string) *remote.SearchPage {
	s.searchMu.Lock()
	page := s.lastSearch
	s.searchMu.Unlock()

	if page == nil {
		return &remote.SearchPage{Items: []models.JobPosting{}}
	}

	narrowed := *page
	narrowed.Items = search.FilterPostings(page.Items, term, remoteOnly, employmentType)
	return &narrowed
}
