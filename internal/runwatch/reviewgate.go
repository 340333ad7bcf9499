package runwatch

import (
	"context"
	"strings"
)

// UserActionKind is the closed classification of user_action_required values.
// Unrecognized server values degrade to ActionOther with the raw string kept.
type UserActionKind string

const (
	ActionCaptcha UserActionKind = "captcha"
	ActionConsent UserActionKind = "consent"
	ActionReview  UserActionKind = "review"
	ActionOther   UserActionKind = "other"
)

// reviewMarkers are the substrings that identify a review-gate pause
var reviewMarkers = []string{
	"review",
	"review_required",
	"review_before_submission",
	"user_review",
}

// Classify maps a raw user_action_required value onto the action kinds.
// Matching is case-insensitive: captcha and consent match exactly, review
// kinds by substring, everything else is other.
func Classify(raw string) UserActionKind {
	value := strings.ToLower(strings.TrimSpace(raw))

	switch value {
	case "captcha":
		return ActionCaptcha
	case "consent":
		return ActionConsent
	}

	for _, marker := range reviewMarkers {
		if strings.Contains(value, marker) {
			return ActionReview
		}
	}

	return ActionOther
}

// UserAction is the classified waiting condition of a run
type UserAction struct {
	Kind UserActionKind `json:"kind"`
	Raw  string         `json:"raw"`
	URL  string         `json:"url,omitempty"`
}

// ReviewOpen reports whether the review gate is open for this poller.
// The gate opens when a waiting_for_user snapshot classifies as review-kind;
// captcha/consent/other waits expose the action URL instead.
func (p *Poller) ReviewOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gateOpen
}

// Approve records the user's approval and resumes polling. The server
// proceeds once it observes the review submission; the poller's own state
// is not mutated beyond clearing the waiting condition. Approving with the
// gate closed is a no-op, so repeated clicks cause no duplicate submissions.
func (p *Poller) Approve(ctx context.Context, comment string) error {
	p.mu.Lock()
	if !p.gateOpen {
		p.mu.Unlock()
		return nil
	}
	p.gateOpen = false
	// Remember which ask was answered: the server may keep reporting it
	// for a few polls, and that lag must not reopen the gate
	if p.action != nil {
		p.approvedRaw = p.action.Raw
	}
	p.mu.Unlock()

	if err := p.api.SubmitReview(ctx, p.runID, true, comment); err != nil {
		// Reopen so the user can decide again; nothing was submitted
		p.mu.Lock()
		p.gateOpen = true
		p.approvedRaw = ""
		p.mu.Unlock()
		return err
	}

	p.log.Info("runwatch: review approved", "run_id", p.runID)
	p.Resume()
	return nil
}

// Reject cancels the run and closes the gate. Polling continues so the
// aborted status arrives through the normal snapshot path.
func (p *Poller) Reject(ctx context.Context) error {
	p.mu.Lock()
	if !p.gateOpen {
		p.mu.Unlock()
		return nil
	}
	p.gateOpen = false
	p.mu.Unlock()

	if err := p.api.Cancel(ctx, p.runID); err != nil {
		p.mu.Lock()
		p.gateOpen = true
		p.mu.Unlock()
		return err
	}

	p.log.Info("runwatch: review rejected, run canceled", "run_id", p.runID)
	p.Resume()
	return nil
}
