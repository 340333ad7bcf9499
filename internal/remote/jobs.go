package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lei/simple-apply/internal/models"
)

// Jobs is the tracked-applications API surface
type Jobs struct {
	c *Client
}

// JobRequest creates or updates a tracked application
type JobRequest struct {
	Title    string                   `json:"title"`
	Company  string                   `json:"company"`
	Location string                   `json:"location,omitempty"`
	JobURL   string                   `json:"job_url,omitempty"`
	Status   models.ApplicationStatus `json:"status,omitempty"`
	Notes    string                   `json:"notes,omitempty"`
}

// List returns all tracked applications
func (j *Jobs) List(ctx context.Context) ([]models.JobApplication, error) {
	var apps []models.JobApplication
	if err := j.c.do(ctx, http.MethodGet, "/v1/applications", nil, &apps); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// Create adds a job to the tracker. Saving a job already in the tracker is
// a domain conflict (ErrConflict), surfaced to the user and never retried.
func (j *Jobs) Create(ctx context.Context, req JobRequest) (*models.JobApplication, error) {
	var app models.JobApplication
	if err := j.c.do(ctx, http.MethodPost, "/v1/applications", req, &app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	return &app, nil
}

// Update replaces the descriptive fields of a tracked application
func (j *Jobs) Update(ctx context.Context, id string, req JobRequest) (*models.JobApplication, error) {
	var app models.JobApplication
	path := fmt.Sprintf("/v1/applications/%s", id)
	if err := j.c.do(ctx, http.MethodPut, path, req, &app); err != nil {
		return nil, fmt.Errorf("update application %s: %w", id, err)
	}
	return &app, nil
}

// Delete removes a tracked application
func (j *Jobs) Delete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/v1/applications/%s", id)
	if err := j.c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete application %s: %w", id, err)
	}
	return nil
}

// UpdateStatus moves a tracked application to another pipeline column
func (j *Jobs) UpdateStatus(ctx context.Context, id string, status models.ApplicationStatus) error {
	body := map[string]models.ApplicationStatus{"status": status}
	path := fmt.Sprintf("/v1/applications/%s/status", id)
	if err := j.c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("update application status %s: %w", id, err)
	}
	return nil
}
