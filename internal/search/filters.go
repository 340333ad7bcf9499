// Package search holds client-side helpers for the job-search surface:
// result filtering and the debounce handle for search-as-you-type inputs.
package search

import (
	"strings"

	"github.com/lei/simple-apply/internal/models"
)

// FilterPostings filters already-fetched postings locally. The remote search
// handles the heavy filters; this narrows a loaded page without a round trip.
func FilterPostings(postings []models.JobPosting, term string, remoteOnly *bool, employmentType string) []models.JobPosting {
	if term == "" && remoteOnly == nil && employmentType == "" {
		return postings
	}

	filtered := make([]models.JobPosting, 0, len(postings))
	termLower := strings.ToLower(term)
	typeLower := strings.ToLower(employmentType)

	for _, p := range postings {
		if term != "" &&
			!strings.Contains(strings.ToLower(p.Title), termLower) &&
			!strings.Contains(strings.ToLower(p.Company), termLower) {
			continue
		}
		if remoteOnly != nil && p.Remote != *remoteOnly {
			continue
		}
		if employmentType != "" && strings.ToLower(p.EmploymentType) != typeLower {
			continue
		}
		filtered = append(filtered, p)
	}

	return filtered
}

// ParseBoolParam parses boolean query parameters ("true"/"1"/"false"/"0")
func ParseBoolParam(value string) *bool {
	if value == "" {
		return nil
	}
	if value == "true" || value == "1" {
		result := true
		return &result
	}
	if value == "false" || value == "0" {
		result := false
		return &result
	}
	return nil
}
