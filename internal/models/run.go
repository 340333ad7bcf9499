package models

import "time"

// ApplicationRun represents one execution of the automated application agent.
// The client never mutates a run directly; it only merges snapshots fetched
// from the Run API. The single create call is the only client-side write.
type ApplicationRun struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id,omitempty"`
	Status         RunStatus  `json:"status"`
	Progress       float64    `json:"progress"` // 0..1
	CurrentStep    string     `json:"current_step,omitempty"`
	StepsCompleted int        `json:"steps_completed"`
	TotalSteps     int        `json:"total_steps"`
	UserAction     string     `json:"user_action_required,omitempty"` // raw wire value, empty when none
	UserActionURL  string     `json:"user_action_url,omitempty"`
	ErrorReason    string     `json:"error_reason,omitempty"`
	LogEntries     []LogEntry `json:"log_entries,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// WaitingForUser reports whether the run is blocked on a human action.
// The server guarantees user_action_required is set iff the status is
// waiting_for_user; both sides of the invariant are checked here.
func (r *ApplicationRun) WaitingForUser() bool {
	return r.Status == RunStatusWaitingForUser && r.UserAction != ""
}

// RunStatus represents the state of an application run
type RunStatus string

const (
	RunStatusPending            RunStatus = "pending"
	RunStatusPreparingMaterials RunStatus = "preparing_materials"
	RunStatusRunning            RunStatus = "running"
	RunStatusWaitingForUser     RunStatus = "waiting_for_user"
	RunStatusSubmitted          RunStatus = "submitted"
	RunStatusFailed             RunStatus = "failed"
	RunStatusAborted            RunStatus = "aborted"
)

// Terminal reports whether the status admits no further transitions
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSubmitted, RunStatusFailed, RunStatusAborted:
		return true
	}
	return false
}

// LogEntry is one agent log line attached to a run. Entries are append-only
// and the same entry may reappear verbatim across successive snapshots.
type LogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level,omitempty"`
	StepType   string    `json:"step_type,omitempty"`
	Message    string    `json:"message"`
	Screenshot string    `json:"screenshot_url,omitempty"`
}

// Event is a read-only, display-only run event from the Run API
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventKind is the closed set of event types the client understands.
// Unrecognized wire values degrade to EventKindOther rather than failing.
type EventKind string

const (
	EventKindStarted        EventKind = "STARTED"
	EventKindStepCompleted  EventKind = "STEP_COMPLETED"
	EventKindPaused         EventKind = "PAUSED"
	EventKindWaitingForUser EventKind = "WAITING_FOR_USER"
	EventKindError          EventKind = "ERROR"
	EventKindCompleted      EventKind = "COMPLETED"
	EventKindSubmitted      EventKind = "SUBMITTED"
	EventKindOther          EventKind = "OTHER"
)

// Kind maps the raw event type onto the closed variant set
func (e Event) Kind() EventKind {
	switch EventKind(e.Type) {
	case EventKindStarted, EventKindStepCompleted, EventKindPaused,
		EventKindWaitingForUser, EventKindError, EventKindCompleted,
		EventKindSubmitted:
		return EventKind(e.Type)
	}
	return EventKindOther
}
