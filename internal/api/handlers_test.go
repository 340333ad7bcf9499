package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lei/simple-apply/internal/config"
	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/internal/remote"
	"github.com/lei/simple-apply/internal/runwatch"
	"github.com/lei/simple-apply/internal/service"
	"github.com/lei/simple-apply/pkg/logger"
)

const testAPIKey = "test-key-12345"

// fakeBackend is an httptest stand-in for the remote application service
func fakeBackend() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/applications", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.JobApplication{
			{ID: "job_1", Title: "Backend Engineer", Company: "Acme", Status: models.StatusSaved},
			{ID: "job_2", Title: "SRE", Company: "Globex", Status: models.StatusApplied},
		})
	})
	mux.HandleFunc("POST /v1/applications", func(w http.ResponseWriter, r *http.Request) {
		var req remote.JobRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Title == "Duplicate" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "job already tracked"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.JobApplication{
			ID: "job_new", Title: req.Title, Company: req.Company, Status: models.StatusSaved,
		})
	})
	mux.HandleFunc("PATCH /v1/applications/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /v1/applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req remote.JobRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(models.JobApplication{
			ID: r.PathValue("id"), Title: req.Title, Company: req.Company, Status: models.StatusSaved,
		})
	})
	mux.HandleFunc("DELETE /v1/applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/preferences/auto-apply", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.AutoApplyPreferences{
			JobTitles:                []string{"Engineer"},
			Locations:                []string{"Remote"},
			JobTypes:                 []string{"permanent"},
			EmploymentTypes:          []string{"full_time"},
			ExperienceLevels:         []string{"senior"},
			MatchConfidenceThreshold: 80,
			MaxApplicationsPerDay:    5,
			MaxApplicationsPerWeek:   20,
		})
	})
	mux.HandleFunc("PUT /v1/preferences/auto-apply", func(w http.ResponseWriter, r *http.Request) {
		var p models.AutoApplyPreferences
		json.NewDecoder(r.Body).Decode(&p)
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("PATCH /v1/preferences/auto-apply/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v1/search/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remote.SearchPage{
			Items: []models.JobPosting{
				{ID: "p1", Title: "Platform Engineer", Company: "Initech", Remote: true, EmploymentType: "full_time"},
				{ID: "p2", Title: "Product Designer", Company: "Hooli", Remote: false, EmploymentType: "contract"},
			},
			Page: 1, PageSize: 20, Total: 2,
		})
	})
	mux.HandleFunc("GET /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ApplicationRun{
			ID: r.PathValue("id"), Status: models.RunStatusRunning,
		})
	})
	mux.HandleFunc("GET /v1/runs/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.LogEntry{
			{ID: "log_1", Message: "navigating to posting"},
			{ID: "log_2", Message: "filling form"},
		})
	})
	mux.HandleFunc("GET /v1/resumes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.Resume{})
	})
	mux.HandleFunc("POST /v1/resumes/{id}/duplicate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Resume{ID: "res_copy", Name: "Backend Resume (copy)"})
	})
	mux.HandleFunc("GET /v1/resumes/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("%PDF-1.7 rendered resume"))
	})

	return mux
}

// newTestRouter wires the full stack against the fake backend
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	backend := httptest.NewServer(fakeBackend())
	t.Cleanup(backend.Close)

	log := logger.NewNop()
	tokens := remote.NewMemoryTokenStore("test-access", "test-refresh")
	client := remote.NewClient(backend.URL, tokens, log, remote.WithHTTPClient(backend.Client()))

	svc := service.NewService(client, runwatch.Config{}, log)
	t.Cleanup(svc.Close)

	handlers := NewHandlers(svc)
	auth := NewAuthMiddleware([]config.APIKey{{Name: "test", Key: testAPIKey}})
	logging := NewLoggingMiddleware(log)
	return NewRouter(handlers, auth, logging)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *strings.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	} else {
		reqBody = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthNoAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + testAPIKey},
		{"invalid key", "Bearer wrong-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/applications", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestListApplications(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/applications", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Columns map[models.ApplicationStatus][]models.JobApplication `json:"columns"`
		Order   []models.ApplicationStatus                           `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Columns[models.StatusSaved]) != 1 || len(resp.Columns[models.StatusApplied]) != 1 {
		t.Errorf("columns = %v", resp.Columns)
	}
	if len(resp.Order) != 5 {
		t.Errorf("order = %v, want 5 columns", resp.Order)
	}
}

func TestCreateApplication(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "POST", "/v1/applications",
		`{"title":"Backend Engineer","company":"Initech"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// Missing required fields
	w = doRequest(t, router, "POST", "/v1/applications", `{"title":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateApplicationConflict(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "POST", "/v1/applications",
		`{"title":"Duplicate","company":"Acme"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409, body = %s", w.Code, w.Body.String())
	}
}

func TestMoveApplication(t *testing.T) {
	router := newTestRouter(t)
	// Populate the board first
	doRequest(t, router, "GET", "/v1/applications", "")

	w := doRequest(t, router, "PATCH", "/v1/applications/job_1/status",
		`{"status":"interviewing"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// Unknown status is rejected before anything moves
	w = doRequest(t, router, "PATCH", "/v1/applications/job_1/status",
		`{"status":"archived"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	// Unknown card
	w = doRequest(t, router, "PATCH", "/v1/applications/missing/status",
		`{"status":"applied"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestFlowNotFound(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/flows/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStartFlowEntersUpload(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "POST", "/v1/flows", `{"job_id":"job_1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Flow struct {
			ID   string `json:"id"`
			Step string `json:"step"`
		} `json:"flow"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Flow.Step != "upload" {
		t.Errorf("step = %s, want upload (empty resume inventory)", resp.Flow.Step)
	}

	// The created flow is retrievable
	w = doRequest(t, router, "GET", "/v1/flows/"+resp.Flow.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("get flow status = %d", w.Code)
	}
}

func TestRunControlsRequireWatch(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "POST", "/v1/runs/run_1/pause", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("pause unwatched run status = %d, want 404", w.Code)
	}
}

func TestGetRunStartsWatching(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/runs/run_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Run struct {
			RunID string `json:"run_id"`
			State string `json:"state"`
		} `json:"run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Run.RunID != "run_1" {
		t.Errorf("run_id = %s", resp.Run.RunID)
	}

	// Watching is idempotent; controls now resolve
	w = doRequest(t, router, "POST", "/v1/runs/run_1/pause", "")
	if w.Code != http.StatusOK {
		t.Errorf("pause watched run status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestPutPreferencesValidation(t *testing.T) {
	router := newTestRouter(t)

	// Valid object saves
	valid := `{
		"job_titles": ["Engineer"], "locations": ["Remote"],
		"job_types": ["permanent"], "employment_types": ["full_time"],
		"experience_levels": ["senior"],
		"match_confidence_threshold": 85,
		"max_applications_per_day": 10, "max_applications_per_week": 40
	}`
	w := doRequest(t, router, "PUT", "/v1/preferences", valid)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// Invalid object is rejected with field messages, before any request
	invalid := `{"job_titles": [], "match_confidence_threshold": 50}`
	w = doRequest(t, router, "PUT", "/v1/preferences", invalid)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Fields["match_confidence_threshold"] == "" {
		t.Errorf("fields = %v, want confidence message", resp.Fields)
	}
}

func TestSearchJobs(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/search/jobs?q=engineer&remote=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var page remote.SearchPage
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "p1" {
		t.Errorf("items = %v", page.Items)
	}
}

func TestSearchResultsNarrowLoadedPage(t *testing.T) {
	router := newTestRouter(t)

	// Load a page, then narrow it locally without another backend call
	w := doRequest(t, router, "GET", "/v1/search/jobs?q=engineer", "")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"by term", "?term=platform", []string{"p1"}},
		{"by remote", "?remote=false", []string{"p2"}},
		{"by employment type", "?employment_type=contract", []string{"p2"}},
		{"no narrowing", "", []string{"p1", "p2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, "GET", "/v1/search/results"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			var page remote.SearchPage
			if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, item := range page.Items {
				got = append(got, item.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("items = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("items = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSearchResultsEmptyBeforeAnySearch(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/search/results", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var page remote.SearchPage
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 0 {
		t.Errorf("items = %v, want empty", page.Items)
	}
}

func TestSearchTypeahead(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "POST", "/v1/search/typeahead", `{"q":"plat"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// The debounced query lands after the quiet period
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := doRequest(t, router, "GET", "/v1/search/results", "")
		var page remote.SearchPage
		if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
			t.Fatal(err)
		}
		if len(page.Items) == 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("typeahead results never arrived, items = %v", page.Items)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUpdateApplication(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "PUT", "/v1/applications/job_1",
		`{"title":"Staff Engineer","company":"Acme"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Application models.JobApplication `json:"application"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Application.Title != "Staff Engineer" {
		t.Errorf("title = %s", resp.Application.Title)
	}

	// Missing required fields
	w = doRequest(t, router, "PUT", "/v1/applications/job_1", `{"title":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDeleteApplication(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "DELETE", "/v1/applications/job_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetRunLogs(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/runs/run_1/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Logs []models.LogEntry `json:"logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Logs) != 2 || resp.Logs[0].ID != "log_1" {
		t.Errorf("logs = %v", resp.Logs)
	}
}

func TestDuplicateResume(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "POST", "/v1/resumes/res_1/duplicate", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Resume models.Resume `json:"resume"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Resume.ID != "res_copy" {
		t.Errorf("resume = %v", resp.Resume)
	}
}

func TestExportResume(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/resumes/res_1/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != "%PDF-1.7 rendered resume" {
		t.Errorf("body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %s", ct)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 0},
		{"3", 3},
		{"42", 42},
		{"-1", 0},
		{"abc", 0},
		{"3.5", 0},
	}
	for _, tt := range tests {
		if got := parseIntParam(tt.value); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestNotificationsEmptyFeed(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(t, router, "GET", "/v1/notifications", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
