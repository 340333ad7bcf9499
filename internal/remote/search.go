package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lei/simple-apply/internal/models"
)

// Search is the job-search API surface
type Search struct {
	c *Client
}

// SearchParams filters a paginated job search
type SearchParams struct {
	Query          string
	Location       string
	EmploymentType string
	RemoteOnly     bool
	PostedAfter    *time.Time
	PostedBefore   *time.Time
	Page           int
	PageSize       int
}

// SearchPage is one page of search results
type SearchPage struct {
	Items    []models.JobPosting `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Total    int                 `json:"total"`
}

// Query performs a paginated job search
func (s *Search) Query(ctx context.Context, params SearchParams) (*SearchPage, error) {
	q := url.Values{}
	if params.Query != "" {
		q.Set("q", params.Query)
	}
	if params.Location != "" {
		q.Set("location", params.Location)
	}
	if params.EmploymentType != "" {
		q.Set("employment_type", params.EmploymentType)
	}
	if params.RemoteOnly {
		q.Set("remote", "true")
	}
	if params.PostedAfter != nil {
		q.Set("posted_after", params.PostedAfter.Format(time.RFC3339))
	}
	if params.PostedBefore != nil {
		q.Set("posted_before", params.PostedBefore.Format(time.RFC3339))
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(params.PageSize))
	}

	path := "/v1/search/jobs"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page SearchPage
	if err := s.c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("search jobs: %w", err)
	}
	return &page, nil
}
