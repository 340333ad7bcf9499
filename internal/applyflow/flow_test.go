package applyflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/internal/remote"
	"github.com/lei/simple-apply/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResumes serves a fixed library and counts tailor invocations
type fakeResumes struct {
	mu        sync.Mutex
	library   []models.Resume
	listErr   error
	tailorErr error
	tailors   int
}

func (f *fakeResumes) List(ctx context.Context) ([]models.Resume, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Resume(nil), f.library...), nil
}

func (f *fakeResumes) Upload(ctx context.Context, name string, content []byte) (*models.Resume, error) {
	return &models.Resume{ID: "resume_up", Name: name}, nil
}

func (f *fakeResumes) Tailor(ctx context.Context, resumeID, jobID string) (*models.TailoredResume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tailorErr != nil {
		return nil, f.tailorErr
	}
	f.tailors++
	return &models.TailoredResume{
		ID:       fmt.Sprintf("tailored_%d", f.tailors),
		ResumeID: resumeID,
		JobID:    jobID,
	}, nil
}

func (f *fakeResumes) tailorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tailors
}

// fakeRuns records run creations and fails or blocks on demand
type fakeRuns struct {
	mu      sync.Mutex
	reqs    []remote.CreateRunRequest
	err     error
	release chan struct{}
}

func (f *fakeRuns) Create(ctx context.Context, req remote.CreateRunRequest) (*models.ApplicationRun, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	release := f.release
	err := f.err
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &models.ApplicationRun{ID: "run_1", JobID: req.JobID, Status: models.RunStatusPending}, nil
}

func resume(id string, primary bool) models.Resume {
	return models.Resume{ID: id, Name: "Resume " + id, IsPrimary: primary}
}

func TestResolveStep(t *testing.T) {
	tests := []struct {
		count      int
		hasPrimary bool
		want       Step
	}{
		{0, false, StepUpload},
		{0, true, StepUpload},
		{1, false, StepTailor},
		{1, true, StepTailor},
		{2, true, StepTailor},
		{5, true, StepTailor},
		{2, false, StepSelect},
		{5, false, StepSelect},
	}
	for _, tt := range tests {
		if got := ResolveStep(tt.count, tt.hasPrimary); got != tt.want {
			t.Errorf("ResolveStep(%d, %v) = %s, want %s", tt.count, tt.hasPrimary, got, tt.want)
		}
	}
}

func TestStartNoResumesEntersUpload(t *testing.T) {
	c := NewController(&fakeResumes{}, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)
	assert.Equal(t, StepUpload, f.Step())
	assert.Empty(t, f.State().Resumes)
}

func TestStartSingleResumeAutoTailors(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", false)}}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)

	st := f.State()
	assert.Equal(t, StepTailor, st.Step)
	require.NotNil(t, st.Selected)
	assert.Equal(t, "resume_1", st.Selected.ID)
	require.NotNil(t, st.Tailored)
	assert.Equal(t, "job_1", st.Tailored.JobID)
	assert.Equal(t, 1, resumes.tailorCount())
}

func TestStartPrimaryWinsOverMultiple(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{
		resume("resume_1", false),
		resume("resume_2", true),
		resume("resume_3", false),
	}}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)

	st := f.State()
	assert.Equal(t, StepTailor, st.Step)
	assert.Equal(t, "resume_2", st.Selected.ID)
}

func TestStartMultipleUnmarkedRequiresSelection(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{
		resume("resume_1", false),
		resume("resume_2", false),
	}}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)
	assert.Equal(t, StepSelect, f.Step())
	assert.Equal(t, 0, resumes.tailorCount(), "no tailoring before a selection")

	// Selecting funnels forward into tailoring
	require.NoError(t, f.SelectResume(context.Background(), "resume_2"))
	st := f.State()
	assert.Equal(t, StepTailor, st.Step)
	assert.Equal(t, "resume_2", st.Selected.ID)
	require.NotNil(t, st.Tailored)

	// Selecting again after leaving the step is rejected
	err = f.SelectResume(context.Background(), "resume_1")
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestAttachUploadFunnelsToTailor(t *testing.T) {
	resumes := &fakeResumes{}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)
	require.Equal(t, StepUpload, f.Step())

	require.NoError(t, f.AttachUpload(context.Background(), "cv.pdf", []byte("content")))
	st := f.State()
	assert.Equal(t, StepTailor, st.Step)
	assert.Equal(t, "resume_up", st.Selected.ID)
	require.NotNil(t, st.Tailored)
}

func TestSkipAndAccept(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", true)}}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)

	require.NoError(t, f.Skip())
	st := f.State()
	assert.Equal(t, StepConfirm, st.Step)
	assert.True(t, st.Skipped)
	assert.Nil(t, st.Tailored, "skip discards the tailored artifact")

	// Skip is only legal at tailor
	assert.ErrorIs(t, f.Skip(), ErrWrongStep)
}

func TestRegenerateReplacesArtifact(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", true)}}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)
	first := f.State().Tailored
	require.NotNil(t, first)

	require.NoError(t, f.Regenerate(context.Background()))
	second := f.State().Tailored
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID, "regenerate produces a fresh artifact")
}

func TestAutoTailorFailureKeepsFlowAtTailor(t *testing.T) {
	resumes := &fakeResumes{
		library:   []models.Resume{resume("resume_1", true)},
		tailorErr: errors.New("tailoring unavailable"),
	}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)

	st := f.State()
	assert.Equal(t, StepTailor, st.Step)
	assert.Nil(t, st.Tailored)
	assert.Contains(t, st.Error, "tailoring unavailable")

	// Accept without an artifact is rejected; recovery is regenerate or skip
	require.Error(t, f.Accept())
	resumes.mu.Lock()
	resumes.tailorErr = nil
	resumes.mu.Unlock()
	require.NoError(t, f.Regenerate(context.Background()))
	require.NoError(t, f.Accept())
	assert.Equal(t, StepConfirm, f.Step())
}

func TestConfirmUsesTailoredArtifact(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", true)}}
	runs := &fakeRuns{}
	c := NewController(resumes, runs, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "https://jobs.example.com/1")
	require.NoError(t, err)
	require.NoError(t, f.Accept())

	run, err := f.Confirm(context.Background(), "I consent")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)

	require.Len(t, runs.reqs, 1)
	req := runs.reqs[0]
	assert.Equal(t, "job_1", req.JobID)
	assert.Equal(t, "tailored_1", req.ResumeID, "tailored artifact wins over the base resume")
	assert.Equal(t, "I consent", req.ConsentText)
	assert.Equal(t, "https://jobs.example.com/1", req.ExternalURL)
	assert.NotEmpty(t, req.IdempotencyKey)
}

func TestConfirmAfterSkipUsesBaseResume(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", true)}}
	runs := &fakeRuns{}
	c := NewController(resumes, runs, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)
	require.NoError(t, f.Skip())

	_, err = f.Confirm(context.Background(), "I consent")
	require.NoError(t, err)
	assert.Equal(t, "resume_1", runs.reqs[0].ResumeID)
}

func TestConfirmIsSingleFlight(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", true)}}
	release := make(chan struct{})
	runs := &fakeRuns{release: release}
	c := NewController(resumes, runs, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)
	require.NoError(t, f.Skip())

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.Confirm(context.Background(), "I consent")
		firstDone <- err
	}()

	// Wait until the first create is in flight
	for {
		runs.mu.Lock()
		started := len(runs.reqs) == 1
		runs.mu.Unlock()
		if started {
			break
		}
	}

	// The double-click: rejected, nothing sent
	_, err = f.Confirm(context.Background(), "I consent")
	assert.ErrorIs(t, err, ErrCreateInFlight)

	close(release)
	require.NoError(t, <-firstDone)

	// After success, confirm returns the existing run without a second create
	run, err := f.Confirm(context.Background(), "I consent")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Len(t, runs.reqs, 1)
}

func TestConfirmFailureStaysAtConfirm(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", true)}}
	runs := &fakeRuns{err: errors.New("consent text rejected")}
	c := NewController(resumes, runs, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)
	require.NoError(t, f.Skip())

	_, err = f.Confirm(context.Background(), "")
	require.Error(t, err)

	st := f.State()
	assert.Equal(t, StepConfirm, st.Step)
	assert.Empty(t, st.RunID)
	assert.Contains(t, st.Error, "consent text rejected")

	// Retrying reuses the same idempotency key
	runs.mu.Lock()
	runs.err = nil
	runs.mu.Unlock()
	_, err = f.Confirm(context.Background(), "I consent")
	require.NoError(t, err)
	require.Len(t, runs.reqs, 2)
	assert.Equal(t, runs.reqs[0].IdempotencyKey, runs.reqs[1].IdempotencyKey)
}

func TestConfirmAtWrongStep(t *testing.T) {
	resumes := &fakeResumes{library: []models.Resume{resume("resume_1", true)}}
	c := NewController(resumes, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)

	_, err = f.Confirm(context.Background(), "I consent")
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestControllerGetAndRemove(t *testing.T) {
	c := NewController(&fakeResumes{}, &fakeRuns{}, logger.NewNop())

	f, err := c.Start(context.Background(), "job_1", "")
	require.NoError(t, err)

	got, err := c.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	c.Remove(f.ID)
	_, err = c.Get(f.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrFlowNotFound)
}
