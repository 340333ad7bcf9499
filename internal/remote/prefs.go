package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lei/simple-apply/internal/models"
)

// Prefs is the auto-apply preferences API surface
type Prefs struct {
	c *Client
}

// Get fetches the current preferences
func (p *Prefs) Get(ctx context.Context) (*models.AutoApplyPreferences, error) {
	var prefs models.AutoApplyPreferences
	if err := p.c.do(ctx, http.MethodGet, "/v1/preferences/auto-apply", nil, &prefs); err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &prefs, nil
}

// Put replaces the entire preferences object. Partial updates are not
// offered; the fields are too interdependent for field-level writes.
func (p *Prefs) Put(ctx context.Context, prefs models.AutoApplyPreferences) (*models.AutoApplyPreferences, error) {
	var saved models.AutoApplyPreferences
	if err := p.c.do(ctx, http.MethodPut, "/v1/preferences/auto-apply", prefs, &saved); err != nil {
		return nil, fmt.Errorf("put preferences: %w", err)
	}
	return &saved, nil
}

// PatchStatus changes only the auto-apply status
func (p *Prefs) PatchStatus(ctx context.Context, status models.AutoApplyStatus) error {
	body := map[string]models.AutoApplyStatus{"status": status}
	if err := p.c.do(ctx, http.MethodPatch, "/v1/preferences/auto-apply/status", body, nil); err != nil {
		return fmt.Errorf("patch preferences status: %w", err)
	}
	return nil
}
