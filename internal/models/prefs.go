package models

// AutoApplyStatus is the autonomy level of the auto-apply feature
type AutoApplyStatus string

const (
	AutoApplyActive   AutoApplyStatus = "active"
	AutoApplyPaused   AutoApplyStatus = "paused"
	AutoApplyDisabled AutoApplyStatus = "disabled"
)

// SkillImportance weights a skill in the match computation
type SkillImportance string

const (
	SkillRequired   SkillImportance = "required"
	SkillNiceToHave SkillImportance = "nice_to_have"
)

// WeightedSkill is a skill plus its weight in auto-apply matching
type WeightedSkill struct {
	Name       string          `json:"name"`
	Importance SkillImportance `json:"importance"`
}

// AutoApplyPreferences configures the elevated-autonomy auto-apply mode.
// Status may only reach active when the preference validator reports no
// errors; the numeric and collection fields are interdependent, so the
// object is always saved and rolled back as a whole.
type AutoApplyPreferences struct {
	Enabled bool            `json:"enabled"`
	Status  AutoApplyStatus `json:"status"`

	JobTitles        []string `json:"job_titles"`
	Locations        []string `json:"locations"`
	JobTypes         []string `json:"job_types"`
	EmploymentTypes  []string `json:"employment_types"`
	ExperienceLevels []string `json:"experience_levels"`

	MatchConfidenceThreshold int `json:"match_confidence_threshold"` // 70..100
	MaxApplicationsPerDay    int `json:"max_applications_per_day"`   // 1..50
	MaxApplicationsPerWeek   int `json:"max_applications_per_week"`  // 1..200

	SalaryMin *int `json:"salary_min,omitempty"`
	SalaryMax *int `json:"salary_max,omitempty"`

	Skills []WeightedSkill `json:"skills,omitempty"`
}

// Clone returns a deep copy, used for object-level rollback on failed saves
func (p AutoApplyPreferences) Clone() AutoApplyPreferences {
	out := p
	out.JobTitles = append([]string(nil), p.JobTitles...)
	out.Locations = append([]string(nil), p.Locations...)
	out.JobTypes = append([]string(nil), p.JobTypes...)
	out.EmploymentTypes = append([]string(nil), p.EmploymentTypes...)
	out.ExperienceLevels = append([]string(nil), p.ExperienceLevels...)
	out.Skills = append([]WeightedSkill(nil), p.Skills...)
	if p.SalaryMin != nil {
		v := *p.SalaryMin
		out.SalaryMin = &v
	}
	if p.SalaryMax != nil {
		v := *p.SalaryMax
		out.SalaryMax = &v
	}
	return out
}
