package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/lei/simple-apply/internal/models"
)

// Resumes is the resume inventory API surface
type Resumes struct {
	c *Client
}

// List returns the user's resume inventory
func (r *Resumes) List(ctx context.Context) ([]models.Resume, error) {
	var resumes []models.Resume
	if err := r.c.do(ctx, http.MethodGet, "/v1/resumes", nil, &resumes); err != nil {
		return nil, fmt.Errorf("list resumes: %w", err)
	}
	return resumes, nil
}

// Upload adds a resume file to the inventory
func (r *Resumes) Upload(ctx context.Context, name string, content []byte) (*models.Resume, error) {
	body := map[string]string{
		"name":    name,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	var resume models.Resume
	if err := r.c.do(ctx, http.MethodPost, "/v1/resumes", body, &resume); err != nil {
		return nil, fmt.Errorf("upload resume: %w", err)
	}
	return &resume, nil
}

// Tailor generates a job-specific resume artifact. Calling it again for the
// same resume/job pair replaces the previous artifact server-side.
func (r *Resumes) Tailor(ctx context.Context, resumeID, jobID string) (*models.TailoredResume, error) {
	body := map[string]string{"job_id": jobID}
	var tailored models.TailoredResume
	path := fmt.Sprintf("/v1/resumes/%s/tailor", resumeID)
	if err := r.c.do(ctx, http.MethodPost, path, body, &tailored); err != nil {
		return nil, fmt.Errorf("tailor resume %s: %w", resumeID, err)
	}
	return &tailored, nil
}

// Duplicate copies an existing resume
func (r *Resumes) Duplicate(ctx context.Context, resumeID string) (*models.Resume, error) {
	var resume models.Resume
	path := fmt.Sprintf("/v1/resumes/%s/duplicate", resumeID)
	if err := r.c.do(ctx, http.MethodPost, path, nil, &resume); err != nil {
		return nil, fmt.Errorf("duplicate resume %s: %w", resumeID, err)
	}
	return &resume, nil
}

// Export downloads the rendered resume document
func (r *Resumes) Export(ctx context.Context, resumeID string) ([]byte, error) {
	var data []byte
	path := fmt.Sprintf("/v1/resumes/%s/export", resumeID)
	if err := r.c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, fmt.Errorf("export resume %s: %w", resumeID, err)
	}
	return data, nil
}
