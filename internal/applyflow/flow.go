// Package applyflow implements the forward-biased wizard that prepares and
// creates an automated application run: resolve the entry step from the
// resume inventory, funnel through tailoring, and confirm exactly once.
package applyflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/internal/remote"
	"github.com/lei/simple-apply/pkg/logger"
)

// Step identifies the wizard step currently shown
type Step string

const (
	StepCheck   Step = "check"
	StepUpload  Step = "upload"
	StepSelect  Step = "select"
	StepTailor  Step = "tailor"
	StepConfirm Step = "confirm"
)

var (
	// ErrFlowNotFound indicates an unknown flow id
	ErrFlowNotFound = errors.New("flow not found")

	// ErrWrongStep indicates the operation is not legal at the current step
	ErrWrongStep = errors.New("operation not valid at this step")

	// ErrCreateInFlight indicates a run creation is already outstanding;
	// the duplicate confirm is a no-op
	ErrCreateInFlight = errors.New("run creation already in flight")

	// ErrRunAlreadyCreated indicates the flow has already produced its run
	ErrRunAlreadyCreated = errors.New("run already created")
)

// ResolveStep picks the entry step from the resume inventory. It is a pure
// function of (resumeCount, hasPrimary): no resumes means upload, a single
// or primary resume goes straight to tailoring, multiple unmarked resumes
// require a selection.
func ResolveStep(resumeCount int, hasPrimary bool) Step {
	switch {
	case resumeCount == 0:
		return StepUpload
	case resumeCount == 1 || hasPrimary:
		return StepTailor
	default:
		return StepSelect
	}
}

// ResumeAPI is the slice of the resume API the flow needs.
// *remote.Resumes satisfies it.
type ResumeAPI interface {
	List(ctx context.Context) ([]models.Resume, error)
	Upload(ctx context.Context, name string, content []byte) (*models.Resume, error)
	Tailor(ctx context.Context, resumeID, jobID string) (*models.TailoredResume, error)
}

// RunCreator creates the application run on confirm.
// *remote.Runs satisfies it.
type RunCreator interface {
	Create(ctx context.Context, req remote.CreateRunRequest) (*models.ApplicationRun, error)
}

// Flow is one apply-wizard session for a target job
type Flow struct {
	ID          string
	JobID       string
	ExternalURL string

	resumes ResumeAPI
	runs    RunCreator
	log     *logger.Logger

	mu       sync.Mutex
	step     Step
	idemKey  string
	library  []models.Resume
	selected *models.Resume
	tailored *models.TailoredResume
	skipped  bool
	creating bool
	run      *models.ApplicationRun
	lastErr  string
}

// FlowState is the externally visible snapshot of a flow
type FlowState struct {
	ID       string                 `json:"id"`
	JobID    string                 `json:"job_id"`
	Step     Step                   `json:"step"`
	Resumes  []models.Resume        `json:"resumes,omitempty"`
	Selected *models.Resume         `json:"selected_resume,omitempty"`
	Tailored *models.TailoredResume `json:"tailored_resume,omitempty"`
	Skipped  bool                   `json:"skipped_tailoring,omitempty"`
	RunID    string                 `json:"run_id,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Controller owns the live apply-flow sessions
type Controller struct {
	resumes ResumeAPI
	runs    RunCreator
	log     *logger.Logger

	mu    sync.Mutex
	flows map[string]*Flow
}

// NewController creates an apply-flow controller
func NewController(resumes ResumeAPI, runs RunCreator, log *logger.Logger) *Controller {
	return &Controller{
		resumes: resumes,
		runs:    runs,
		log:     log,
		flows:   make(map[string]*Flow),
	}
}

// Start opens a flow for jobID. The resume inventory is evaluated once, at
// flow start; entering tailor auto-invokes the tailoring operation.
func (c *Controller) Start(ctx context.Context, jobID, externalURL string) (*Flow, error) {
	library, err := c.resumes.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load resume inventory: %w", err)
	}

	var primary *models.Resume
	for i := range library {
		if library[i].IsPrimary {
			primary = &library[i]
			break
		}
	}

	f := &Flow{
		ID:          uuid.NewString(),
		JobID:       jobID,
		ExternalURL: externalURL,
		resumes:     c.resumes,
		runs:        c.runs,
		log:         c.log,
		step:        ResolveStep(len(library), primary != nil),
		idemKey:     uuid.NewString(),
		library:     library,
	}

	switch f.step {
	case StepTailor:
		if primary != nil {
			f.selected = primary
		} else {
			f.selected = &library[0]
		}
	}

	c.mu.Lock()
	c.flows[f.ID] = f
	c.mu.Unlock()

	c.log.Info("applyflow: flow started",
		"flow_id", f.ID, "job_id", jobID, "step", f.step, "resumes", len(library))

	if f.step == StepTailor {
		f.autoTailor(ctx)
	}
	return f, nil
}

// Get returns a live flow by id
func (c *Controller) Get(id string) (*Flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return f, nil
}

// Remove drops a finished or abandoned flow
func (c *Controller) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flows, id)
}

// State returns a copy of the flow's visible state
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := FlowState{
		ID:       f.ID,
		JobID:    f.JobID,
		Step:     f.step,
		Resumes:  append([]models.Resume(nil), f.library...),
		Selected: f.selected,
		Tailored: f.tailored,
		Skipped:  f.skipped,
		Error:    f.lastErr,
	}
	if f.run != nil {
		st.RunID = f.run.ID
	}
	return st
}

// Step returns the current wizard step
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Run returns the created run, nil until confirm succeeds
func (f *Flow) Run() *models.ApplicationRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.run
}

// SelectResume chooses a resume at the select step and funnels forward into
// tailoring
func (f *Flow) SelectResume(ctx context.Context, resumeID string) error {
	f.mu.Lock()
	if f.step != StepSelect {
		f.mu.Unlock()
		return fmt.Errorf("select at %s: %w", f.step, ErrWrongStep)
	}

	var chosen *models.Resume
	for i := range f.library {
		if f.library[i].ID == resumeID {
			chosen = &f.library[i]
			break
		}
	}
	if chosen == nil {
		f.mu.Unlock()
		return fmt.Errorf("select resume %s: resume not in inventory", resumeID)
	}

	f.selected = chosen
	f.step = StepTailor
	f.mu.Unlock()

	f.log.Info("applyflow: resume selected", "flow_id", f.ID, "resume_id", resumeID)
	f.autoTailor(ctx)
	return nil
}

// AttachUpload uploads a new resume at the upload step and funnels forward
// into tailoring
func (f *Flow) AttachUpload(ctx context.Context, name string, content []byte) error {
	f.mu.Lock()
	if f.step != StepUpload {
		f.mu.Unlock()
		return fmt.Errorf("upload at %s: %w", f.step, ErrWrongStep)
	}
	f.mu.Unlock()

	uploaded, err := f.resumes.Upload(ctx, name, content)
	if err != nil {
		return fmt.Errorf("upload resume: %w", err)
	}

	f.mu.Lock()
	f.library = append(f.library, *uploaded)
	f.selected = uploaded
	f.step = StepTailor
	f.mu.Unlock()

	f.log.Info("applyflow: resume uploaded", "flow_id", f.ID, "resume_id", uploaded.ID)
	f.autoTailor(ctx)
	return nil
}

// Skip declines tailoring: the original resume is used unmodified and the
// flow advances to confirm
func (f *Flow) Skip() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != StepTailor {
		return fmt.Errorf("skip at %s: %w", f.step, ErrWrongStep)
	}
	f.skipped = true
	f.tailored = nil
	f.step = StepConfirm
	f.log.Info("applyflow: tailoring skipped", "flow_id", f.ID)
	return nil
}

// Regenerate replaces the tailored artifact with a fresh one. Re-invoking
// with the same job/resume pair produces a new artifact, no accumulation.
func (f *Flow) Regenerate(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepTailor && f.step != StepConfirm {
		f.mu.Unlock()
		return fmt.Errorf("regenerate at %s: %w", f.step, ErrWrongStep)
	}
	if f.selected == nil {
		f.mu.Unlock()
		return fmt.Errorf("regenerate: no resume selected")
	}
	resumeID := f.selected.ID
	f.mu.Unlock()

	tailored, err := f.resumes.Tailor(ctx, resumeID, f.JobID)
	if err != nil {
		f.setErr(err)
		return fmt.Errorf("regenerate tailored resume: %w", err)
	}

	f.mu.Lock()
	f.tailored = tailored
	f.skipped = false
	f.lastErr = ""
	f.mu.Unlock()

	f.log.Info("applyflow: tailored resume regenerated",
		"flow_id", f.ID, "artifact_id", tailored.ID)
	return nil
}

// Accept moves from tailor to confirm once a tailored artifact exists
func (f *Flow) Accept() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.step != StepTailor {
		return fmt.Errorf("accept at %s: %w", f.step, ErrWrongStep)
	}
	if f.tailored == nil && !f.skipped {
		return fmt.Errorf("accept: no tailored resume yet")
	}
	f.step = StepConfirm
	return nil
}

// Confirm creates the run. At most one creation per confirm: a second call
// while a request is outstanding returns ErrCreateInFlight and does nothing;
// after success the created run is returned again. On failure the flow
// remains at confirm with the error surfaced and no partial run exists.
func (f *Flow) Confirm(ctx context.Context, consentText string) (*models.ApplicationRun, error) {
	f.mu.Lock()
	if f.run != nil {
		run := f.run
		f.mu.Unlock()
		return run, nil
	}
	if f.creating {
		f.mu.Unlock()
		return nil, ErrCreateInFlight
	}
	if f.step != StepConfirm {
		f.mu.Unlock()
		return nil, fmt.Errorf("confirm at %s: %w", f.step, ErrWrongStep)
	}
	if f.selected == nil {
		f.mu.Unlock()
		return nil, fmt.Errorf("confirm: no resume selected")
	}

	req := remote.CreateRunRequest{
		JobID:          f.JobID,
		ResumeID:       f.selected.ID,
		ConsentText:    consentText,
		ExternalURL:    f.ExternalURL,
		IdempotencyKey: f.idemKey,
	}
	if f.tailored != nil {
		req.ResumeID = f.tailored.ID
	}
	f.creating = true
	f.mu.Unlock()

	run, err := f.runs.Create(ctx, req)

	f.mu.Lock()
	f.creating = false
	if err != nil {
		f.lastErr = err.Error()
		f.mu.Unlock()
		f.log.Error("applyflow: run creation failed", "flow_id", f.ID, "error", err)
		return nil, fmt.Errorf("create run: %w", err)
	}
	f.run = run
	f.lastErr = ""
	f.mu.Unlock()

	f.log.Info("applyflow: run created", "flow_id", f.ID, "run_id", run.ID)
	return run, nil
}

// autoTailor invokes tailoring on entering the tailor step. Failure keeps
// the flow at tailor with the error surfaced; the user can regenerate.
func (f *Flow) autoTailor(ctx context.Context) {
	f.mu.Lock()
	if f.selected == nil || f.step != StepTailor {
		f.mu.Unlock()
		return
	}
	resumeID := f.selected.ID
	f.mu.Unlock()

	tailored, err := f.resumes.Tailor(ctx, resumeID, f.JobID)
	if err != nil {
		f.setErr(err)
		f.log.Warn("applyflow: auto-tailor failed",
			"flow_id", f.ID, "resume_id", resumeID, "error", err)
		return
	}

	f.mu.Lock()
	f.tailored = tailored
	f.lastErr = ""
	f.mu.Unlock()

	f.log.Info("applyflow: resume tailored",
		"flow_id", f.ID, "artifact_id", tailored.ID)
}

func (f *Flow) setErr(err error) {
	f.mu.Lock()
	f.lastErr = err.Error()
	f.mu.Unlock()
}
