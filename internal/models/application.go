package models

import "time"

// ApplicationStatus is the pipeline column a tracked application occupies.
// The five columns are independent states, not an ordered pipeline.
type ApplicationStatus string

const (
	StatusSaved        ApplicationStatus = "saved"
	StatusApplied      ApplicationStatus = "applied"
	StatusInterviewing ApplicationStatus = "interviewing"
	StatusOffered      ApplicationStatus = "offered"
	StatusRejected     ApplicationStatus = "rejected"
)

// Columns returns the fixed board columns in display order
func Columns() []ApplicationStatus {
	return []ApplicationStatus{
		StatusSaved,
		StatusApplied,
		StatusInterviewing,
		StatusOffered,
		StatusRejected,
	}
}

// Valid reports whether s is one of the five board columns
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusSaved, StatusApplied, StatusInterviewing, StatusOffered, StatusRejected:
		return true
	}
	return false
}

// JobApplication is one tracked application (a kanban card)
type JobApplication struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Company   string            `json:"company"`
	Location  string            `json:"location,omitempty"`
	JobURL    string            `json:"job_url,omitempty"`
	Status    ApplicationStatus `json:"status"`
	Notes     string            `json:"notes,omitempty"`
	AppliedAt *time.Time        `json:"applied_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Resume is an entry in the user's resume inventory
type Resume struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsPrimary bool      `json:"is_primary"`
	FileURL   string    `json:"file_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TailoredResume is a resume artifact generated for a specific job.
// Regenerating for the same job/resume pair replaces the artifact.
type TailoredResume struct {
	ID        string    `json:"id"`
	ResumeID  string    `json:"resume_id"`
	JobID     string    `json:"job_id"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JobPosting is a search result from the job-search API
type JobPosting struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Company        string     `json:"company"`
	Location       string     `json:"location,omitempty"`
	URL            string     `json:"url,omitempty"`
	Description    string     `json:"description,omitempty"`
	EmploymentType string     `json:"employment_type,omitempty"`
	Remote         bool       `json:"remote"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	MatchScore     float64    `json:"match_score,omitempty"`
}
