// Package prefs validates and manages auto-apply preferences. Validation is
// purely local and gates the higher-autonomy active status; saves are
// optimistic with object-level rollback.
package prefs

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/lei/simple-apply/internal/models"
)

// Bounds for the numeric preference fields
const (
	MinConfidence = 70
	MaxConfidence = 100
	MinPerDay     = 1
	MaxPerDay     = 50
	MinPerWeek    = 1
	MaxPerWeek    = 200
)

// Validate checks an auto-apply preference object and returns field-keyed
// error messages. An empty map means the preferences may be activated.
// Validate never touches the network.
func Validate(p models.AutoApplyPreferences) map[string]string {
	fields := make(map[string]string)

	if len(p.JobTitles) == 0 {
		fields["job_titles"] = "At least one job title is required"
	}
	if len(p.Locations) == 0 {
		fields["locations"] = "At least one location is required"
	}
	if len(p.JobTypes) == 0 {
		fields["job_types"] = "At least one job type is required"
	}
	if len(p.EmploymentTypes) == 0 {
		fields["employment_types"] = "At least one employment type is required"
	}
	if len(p.ExperienceLevels) == 0 {
		fields["experience_levels"] = "At least one experience level is required"
	}

	if p.MatchConfidenceThreshold < MinConfidence || p.MatchConfidenceThreshold > MaxConfidence {
		fields["match_confidence_threshold"] = fmt.Sprintf(
			"Confidence threshold must be between %d and %d", MinConfidence, MaxConfidence)
	}
	if p.MaxApplicationsPerDay < MinPerDay || p.MaxApplicationsPerDay > MaxPerDay {
		fields["max_applications_per_day"] = fmt.Sprintf(
			"Daily application cap must be between %d and %d", MinPerDay, MaxPerDay)
	}
	if p.MaxApplicationsPerWeek < MinPerWeek || p.MaxApplicationsPerWeek > MaxPerWeek {
		fields["max_applications_per_week"] = fmt.Sprintf(
			"Weekly application cap must be between %d and %d", MinPerWeek, MaxPerWeek)
	}

	if p.SalaryMin != nil && p.SalaryMax != nil && *p.SalaryMin > *p.SalaryMax {
		fields["salary_min"] = "Minimum salary cannot exceed maximum salary"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ValidationError carries the field-keyed messages as a single error value
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var combined error
	for field, msg := range e.Fields {
		combined = multierr.Append(combined, fmt.Errorf("%s: %s", field, msg))
	}
	if combined == nil {
		return "invalid preferences"
	}
	return combined.Error()
}

// AsValidationError extracts a ValidationError from an error chain
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
