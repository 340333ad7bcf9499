package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lei/simple-apply/internal/applyflow"
	"github.com/lei/simple-apply/internal/board"
	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/internal/prefs"
	"github.com/lei/simple-apply/internal/remote"
	"github.com/lei/simple-apply/internal/search"
	"github.com/lei/simple-apply/internal/service"
)

// Handlers contains HTTP handler functions
type Handlers struct {
	service *service.Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{service: svc}
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// --- Board ---

// ListApplications handles GET /v1/applications
func (h *Handlers) ListApplications(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshBoard(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}

	columns := h.service.Board(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"columns": columns,
		"order":   models.Columns(),
	})
}

// CreateApplication handles POST /v1/applications
func (h *Handlers) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req remote.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Company == "" {
		respondError(w, r, http.StatusBadRequest, "title and company are required")
		return
	}

	app, err := h.service.CreateApplication(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"application": app})
}

// MoveApplication handles PATCH /v1/applications/{id}/status.
// The drag target is either a column or a sibling card id.
func (h *Handlers) MoveApplication(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "id")

	var req struct {
		Status models.ApplicationStatus `json:"status"`
		Before string                   `json:"before"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	var target board.Target
	switch {
	case req.Before != "":
		target = board.CardTarget(req.Before)
	case req.Status != "":
		if !req.Status.Valid() {
			respondError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
		target = board.ColumnTarget(req.Status)
	default:
		respondError(w, r, http.StatusBadRequest, "status or before is required")
		return
	}

	if err := h.service.MoveCard(r.Context(), cardID, target); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"columns": h.service.Board(r.Context()),
	})
}

// ReorderApplication handles POST /v1/applications/{id}/reorder.
// Ordering is session-local; nothing is persisted remotely.
func (h *Handlers) ReorderApplication(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "id")

	var req struct {
		Before string `json:"before"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Before == "" {
		respondError(w, r, http.StatusBadRequest, "before card id is required")
		return
	}

	if err := h.service.ReorderCard(r.Context(), cardID, req.Before); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"columns": h.service.Board(r.Context()),
	})
}

// UpdateApplication handles PUT /v1/applications/{id}.
// Edits descriptive fields only; moves go through the status route.
func (h *Handlers) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	var req remote.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Company == "" {
		respondError(w, r, http.StatusBadRequest, "title and company are required")
		return
	}

	app, err := h.service.UpdateApplication(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"application": app})
}

// DeleteApplication handles DELETE /v1/applications/{id}
func (h *Handlers) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteApplication(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Apply flow ---

// StartFlow handles POST /v1/flows
func (h *Handlers) StartFlow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID       string `json:"job_id"`
		ExternalURL string `json:"external_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		respondError(w, r, http.StatusBadRequest, "job_id is required")
		return
	}

	state, err := h.service.StartFlow(r.Context(), req.JobID, req.ExternalURL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"flow": state})
}

// GetFlow handles GET /v1/flows/{flow_id}
func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Flow(r.Context(), chi.URLParam(r, "flow_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flow": state})
}

// SelectFlowResume handles POST /v1/flows/{flow_id}/select
func (h *Handlers) SelectFlowResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResumeID string `json:"resume_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ResumeID == "" {
		respondError(w, r, http.StatusBadRequest, "resume_id is required")
		return
	}

	state, err := h.service.SelectFlowResume(r.Context(), chi.URLParam(r, "flow_id"), req.ResumeID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flow": state})
}

// UploadFlowResume handles POST /v1/flows/{flow_id}/upload
func (h *Handlers) UploadFlowResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Content string `json:"content"` // base64
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, r, http.StatusBadRequest, "name and content are required")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "content must be base64")
		return
	}

	state, err := h.service.UploadFlowResume(r.Context(), chi.URLParam(r, "flow_id"), req.Name, content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flow": state})
}

// SkipFlowTailoring handles POST /v1/flows/{flow_id}/skip
func (h *Handlers) SkipFlowTailoring(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.SkipFlowTailoring(r.Context(), chi.URLParam(r, "flow_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flow": state})
}

// RegenerateFlowResume handles POST /v1/flows/{flow_id}/regenerate
func (h *Handlers) RegenerateFlowResume(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.RegenerateFlowResume(r.Context(), chi.URLParam(r, "flow_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flow": state})
}

// AcceptFlowTailoring handles POST /v1/flows/{flow_id}/accept
func (h *Handlers) AcceptFlowTailoring(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.AcceptFlowTailoring(r.Context(), chi.URLParam(r, "flow_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flow": state})
}

// ConfirmFlow handles POST /v1/flows/{flow_id}/confirm
func (h *Handlers) ConfirmFlow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConsentText string `json:"consent_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.service.ConfirmFlow(r.Context(), chi.URLParam(r, "flow_id"), req.ConsentText)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flow": state})
}

// --- Runs ---

// GetRun handles GET /v1/runs/{run_id}; watching begins on first access
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	if err := h.service.WatchRun(r.Context(), runID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	view, err := h.service.Run(r.Context(), runID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run": view})
}

// GetRunEvents handles GET /v1/runs/{run_id}/events
func (h *Handlers) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.RunEvents(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetRunLogs handles GET /v1/runs/{run_id}/logs; the authoritative full
// history, unlike the merged window on the run snapshot
func (h *Handlers) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.RunLogs(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// PauseRun handles POST /v1/runs/{run_id}/pause
func (h *Handlers) PauseRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.PauseRun(r.Context(), chi.URLParam(r, "run_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeRun handles POST /v1/runs/{run_id}/resume
func (h *Handlers) ResumeRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResumeRun(r.Context(), chi.URLParam(r, "run_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "polling"})
}

// CancelRun handles POST /v1/runs/{run_id}/cancel
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelRun(r.Context(), chi.URLParam(r, "run_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

// RetryRun handles POST /v1/runs/{run_id}/retry
func (h *Handlers) RetryRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RetryRun(r.Context(), chi.URLParam(r, "run_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "polling"})
}

// ReviewRun handles POST /v1/runs/{run_id}/review
func (h *Handlers) ReviewRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approved *bool  `json:"approved"`
		Comment  string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil {
		respondError(w, r, http.StatusBadRequest, "approved is required")
		return
	}

	if err := h.service.ReviewRun(r.Context(), chi.URLParam(r, "run_id"), *req.Approved, req.Comment); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "review_submitted"})
}

// --- Resumes ---

// DuplicateResume handles POST /v1/resumes/{id}/duplicate
func (h *Handlers) DuplicateResume(w http.ResponseWriter, r *http.Request) {
	resume, err := h.service.DuplicateResume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"resume": resume})
}

// ExportResume handles GET /v1/resumes/{id}/export; streams the rendered
// document bytes as-is
func (h *Handlers) ExportResume(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportResume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- Preferences ---

// GetPreferences handles GET /v1/preferences
func (h *Handlers) GetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Preferences(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"preferences": p})
}

// PutPreferences handles PUT /v1/preferences
func (h *Handlers) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var p models.AutoApplyPreferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SavePreferences(r.Context(), p); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"preferences": h.servicePrefs(r)})
}

// EnableAutoApply handles POST /v1/preferences/enable
func (h *Handlers) EnableAutoApply(w http.ResponseWriter, r *http.Request) {
	if err := h.service.EnableAutoApply(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"preferences": h.servicePrefs(r)})
}

// DisableAutoApply handles POST /v1/preferences/disable
func (h *Handlers) DisableAutoApply(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DisableAutoApply(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"preferences": h.servicePrefs(r)})
}

func (h *Handlers) servicePrefs(r *http.Request) *models.AutoApplyPreferences {
	p, _ := h.service.Preferences(r.Context())
	return p
}

// --- Search & notifications ---

// SearchJobs handles GET /v1/search/jobs
func (h *Handlers) SearchJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := remote.SearchParams{
		Query:          q.Get("q"),
		Location:       q.Get("location"),
		EmploymentType: q.Get("employment_type"),
	}
	if remoteOnly := search.ParseBoolParam(q.Get("remote")); remoteOnly != nil {
		params.RemoteOnly = *remoteOnly
	}
	params.Page = parseIntParam(q.Get("page"))
	params.PageSize = parseIntParam(q.Get("page_size"))

	page, err := h.service.SearchJobs(r.Context(), params)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// SearchTypeahead handles POST /v1/search/typeahead. Each keystroke posts
// here; only the trailing call of a burst reaches the backend, and the
// results replace the page served by SearchResults.
func (h *Handlers) SearchTypeahead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query          string `json:"q"`
		Location       string `json:"location"`
		EmploymentType string `json:"employment_type"`
		Remote         bool   `json:"remote"`
		Page           int    `json:"page"`
		PageSize       int    `json:"page_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	h.service.SearchTypeahead(r.Context(), remote.SearchParams{
		Query:          req.Query,
		Location:       req.Location,
		EmploymentType: req.EmploymentType,
		RemoteOnly:     req.Remote,
		Page:           req.Page,
		PageSize:       req.PageSize,
	})
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// SearchResults handles GET /v1/search/results: the last loaded page,
// narrowed locally by term/remote/employment_type without a round trip
func (h *Handlers) SearchResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := h.service.SearchResults(r.Context(),
		q.Get("term"), search.ParseBoolParam(q.Get("remote")), q.Get("employment_type"))
	respondJSON(w, http.StatusOK, page)
}

// Notifications handles GET /v1/notifications
func (h *Handlers) Notifications(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"notifications": h.service.Notifications(r.Context()),
	})
}

// parseIntParam parses a positive integer query parameter, 0 when absent
// or malformed
func parseIntParam(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// --- Responses ---

// respondJSON writes a JSON response with the given status
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError writes a JSON error envelope
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, status, map[string]any{
		"error":      message,
		"request_id": GetRequestID(r.Context()),
	})
}

// respondValidationError writes the field-scoped messages inline
func respondValidationError(w http.ResponseWriter, r *http.Request, ve *prefs.ValidationError) {
	respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":      "preferences validation failed",
		"fields":     ve.Fields,
		"request_id": GetRequestID(r.Context()),
	})
}

// handleServiceError maps service-layer errors onto HTTP statuses
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := prefs.AsValidationError(err); ok {
		respondValidationError(w, r, ve)
		return
	}

	var apiErr *remote.APIError
	switch {
	case errors.Is(err, service.ErrRunNotWatched),
		errors.Is(err, applyflow.ErrFlowNotFound),
		errors.Is(err, board.ErrCardNotFound),
		errors.Is(err, remote.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())

	case errors.Is(err, board.ErrCardBusy),
		errors.Is(err, applyflow.ErrWrongStep),
		errors.Is(err, applyflow.ErrCreateInFlight),
		errors.Is(err, remote.ErrConflict):
		respondError(w, r, http.StatusConflict, err.Error())

	case errors.Is(err, board.ErrInvalidTarget):
		respondError(w, r, http.StatusBadRequest, err.Error())

	case errors.Is(err, remote.ErrSessionExpired), errors.Is(err, remote.ErrUnauthorized):
		respondError(w, r, http.StatusUnauthorized, "session expired, sign in again")

	case errors.As(err, &apiErr) && apiErr.Code == http.StatusUnprocessableEntity:
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      apiErr.Message,
			"fields":     apiErr.Fields,
			"request_id": GetRequestID(r.Context()),
		})

	case remote.IsTransient(err):
		respondError(w, r, http.StatusBadGateway, "application service unavailable")

	default:
		respondError(w, r, http.StatusInternalServerError, err.Error())
	}
}
