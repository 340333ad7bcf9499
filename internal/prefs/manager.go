package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/pkg/logger"
)

// ErrNotLoaded indicates no preferences have been loaded yet
var ErrNotLoaded = errors.New("preferences not loaded")

// PrefsAPI is the slice of the preferences API the manager needs.
// *remote.Prefs satisfies it.
type PrefsAPI interface {
	Get(ctx context.Context) (*models.AutoApplyPreferences, error)
	Put(ctx context.Context, prefs models.AutoApplyPreferences) (*models.AutoApplyPreferences, error)
	PatchStatus(ctx context.Context, status models.AutoApplyStatus) error
}

// Manager holds the local mirror of the auto-apply preferences. Saves apply
// optimistically and roll back the entire object on failure; the fields are
// too interdependent for per-field recovery.
type Manager struct {
	api PrefsAPI
	log *logger.Logger

	mu      sync.Mutex
	current *models.AutoApplyPreferences
	saving  bool
}

// NewManager creates a preferences manager
func NewManager(api PrefsAPI, log *logger.Logger) *Manager {
	return &Manager{api: api, log: log}
}

// Load fetches the preferences and replaces the local mirror
func (m *Manager) Load(ctx context.Context) (*models.AutoApplyPreferences, error) {
	fetched, err := m.api.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	m.mu.Lock()
	m.current = fetched
	m.mu.Unlock()

	return m.Current(), nil
}

// Current returns a copy of the local mirror, nil before Load
func (m *Manager) Current() *models.AutoApplyPreferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	copied := m.current.Clone()
	return &copied
}

// Save validates locally, applies the new object optimistically, then
// replaces it remotely. Validation failure blocks the save before any
// request; a remote failure rolls the whole object back to the last
// known-good snapshot. Concurrent saves are serialized per the in-flight
// guard: a second save while one is outstanding is rejected.
func (m *Manager) Save(ctx context.Context, p models.AutoApplyPreferences) error {
	if fields := Validate(p); fields != nil {
		return &ValidationError{Fields: fields}
	}

	m.mu.Lock()
	if m.saving {
		m.mu.Unlock()
		return fmt.Errorf("save preferences: update already in flight")
	}
	prev := m.current
	next := p.Clone()
	m.current = &next
	m.saving = true
	m.mu.Unlock()

	saved, err := m.api.Put(ctx, p)

	m.mu.Lock()
	m.saving = false
	if err != nil {
		m.current = prev
		m.mu.Unlock()
		m.log.Warn("prefs: save failed, rolled back", "error", err)
		return fmt.Errorf("save preferences: %w", err)
	}
	m.current = saved
	m.mu.Unlock()

	m.log.Info("prefs: preferences saved")
	return nil
}

// Enable switches auto-apply to the active status. It is honored only when
// validation reports no errors; otherwise the status is left untouched.
func (m *Manager) Enable(ctx context.Context) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNotLoaded
	}
	candidate := m.current.Clone()
	m.mu.Unlock()

	if fields := Validate(candidate); fields != nil {
		m.log.Warn("prefs: enable rejected by validation", "fields", len(fields))
		return &ValidationError{Fields: fields}
	}

	if err := m.api.PatchStatus(ctx, models.AutoApplyActive); err != nil {
		return fmt.Errorf("enable auto-apply: %w", err)
	}

	m.mu.Lock()
	m.current.Status = models.AutoApplyActive
	m.current.Enabled = true
	m.mu.Unlock()

	m.log.Info("prefs: auto-apply enabled")
	return nil
}

// Disable switches auto-apply off. Disabling is unconditionally allowed.
func (m *Manager) Disable(ctx context.Context) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNotLoaded
	}
	m.mu.Unlock()

	if err := m.api.PatchStatus(ctx, models.AutoApplyDisabled); err != nil {
		return fmt.Errorf("disable auto-apply: %w", err)
	}

	m.mu.Lock()
	m.current.Status = models.AutoApplyDisabled
	m.current.Enabled = false
	m.mu.Unlock()

	m.log.Info("prefs: auto-apply disabled")
	return nil
}
