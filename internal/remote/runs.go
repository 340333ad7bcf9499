package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lei/simple-apply/internal/models"
)

// Runs is the application-run API surface
type Runs struct {
	c *Client
}

// CreateRunRequest creates a new automated application run
type CreateRunRequest struct {
	JobID          string `json:"job_id"`
	ResumeID       string `json:"resume_id"`
	ConsentText    string `json:"consent_text"`
	ExternalURL    string `json:"external_url,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Create starts a new run and returns its initial snapshot
func (r *Runs) Create(ctx context.Context, req CreateRunRequest) (*models.ApplicationRun, error) {
	var run models.ApplicationRun
	if err := r.c.do(ctx, http.MethodPost, "/v1/runs", req, &run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &run, nil
}

// Get fetches the current snapshot of a run
func (r *Runs) Get(ctx context.Context, runID string) (*models.ApplicationRun, error) {
	var run models.ApplicationRun
	path := fmt.Sprintf("/v1/runs/%s", runID)
	if err := r.c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

// Logs fetches the full log history of a run
func (r *Runs) Logs(ctx context.Context, runID string) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	path := fmt.Sprintf("/v1/runs/%s/logs", runID)
	if err := r.c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, fmt.Errorf("get run logs %s: %w", runID, err)
	}
	return entries, nil
}

// Events fetches the display-only event history of a run
func (r *Runs) Events(ctx context.Context, runID string) ([]models.Event, error) {
	var events []models.Event
	path := fmt.Sprintf("/v1/runs/%s/events", runID)
	if err := r.c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, fmt.Errorf("get run events %s: %w", runID, err)
	}
	return events, nil
}

// Cancel aborts a run; the next snapshot is expected to show aborted
func (r *Runs) Cancel(ctx context.Context, runID string) error {
	path := fmt.Sprintf("/v1/runs/%s/cancel", runID)
	if err := r.c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return nil
}

// SubmitReview records the user's review decision for a run paused at the
// review gate. The agent proceeds (or aborts) once it observes the decision;
// the client only resumes polling afterwards.
func (r *Runs) SubmitReview(ctx context.Context, runID string, approved bool, comment string) error {
	body := map[string]any{
		"approved": approved,
	}
	if comment != "" {
		body["comment"] = comment
	}
	path := fmt.Sprintf("/v1/runs/%s/review", runID)
	if err := r.c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("submit review %s: %w", runID, err)
	}
	return nil
}
