package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and configures the HTTP router
func NewRouter(handlers *Handlers, authMiddleware *AuthMiddleware, loggingMiddleware *LoggingMiddleware) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - ORDER MATTERS!
	r.Use(middleware.RequestID)      // Generate request ID first
	r.Use(middleware.RealIP)         // Extract real IP
	r.Use(loggingMiddleware.Handler) // Add logger to context with request ID
	r.Use(middleware.Recoverer)      // Panic recovery
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"}, // Expose request ID
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint (no auth required)
	r.Get("/health", handlers.Health)

	// API v1 routes (with authentication)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Kanban board
		r.Get("/applications", handlers.ListApplications)
		r.Post("/applications", handlers.CreateApplication)
		r.Put("/applications/{id}", handlers.UpdateApplication)
		r.Delete("/applications/{id}", handlers.DeleteApplication)
		r.Patch("/applications/{id}/status", handlers.MoveApplication)
		r.Post("/applications/{id}/reorder", handlers.ReorderApplication)

		// Apply flow
		r.Post("/flows", handlers.StartFlow)
		r.Get("/flows/{flow_id}", handlers.GetFlow)
		r.Post("/flows/{flow_id}/select", handlers.SelectFlowResume)
		r.Post("/flows/{flow_id}/upload", handlers.UploadFlowResume)
		r.Post("/flows/{flow_id}/skip", handlers.SkipFlowTailoring)
		r.Post("/flows/{flow_id}/regenerate", handlers.RegenerateFlowResume)
		r.Post("/flows/{flow_id}/accept", handlers.AcceptFlowTailoring)
		r.Post("/flows/{flow_id}/confirm", handlers.ConfirmFlow)

		// Runs - watching begins on first GET
		r.Get("/runs/{run_id}", handlers.GetRun)
		r.Get("/runs/{run_id}/events", handlers.GetRunEvents)
		r.Get("/runs/{run_id}/logs", handlers.GetRunLogs)
		r.Post("/runs/{run_id}/pause", handlers.PauseRun)
		r.Post("/runs/{run_id}/resume", handlers.ResumeRun)
		r.Post("/runs/{run_id}/cancel", handlers.CancelRun)
		r.Post("/runs/{run_id}/retry", handlers.RetryRun)
		r.Post("/runs/{run_id}/review", handlers.ReviewRun)

		// Resume inventory
		r.Post("/resumes/{id}/duplicate", handlers.DuplicateResume)
		r.Get("/resumes/{id}/export", handlers.ExportResume)

		// Auto-apply preferences
		r.Get("/preferences", handlers.GetPreferences)
		r.Put("/preferences", handlers.PutPreferences)
		r.Post("/preferences/enable", handlers.EnableAutoApply)
		r.Post("/preferences/disable", handlers.DisableAutoApply)

		// Job search
		r.Get("/search/jobs", handlers.SearchJobs)
		r.Post("/search/typeahead", handlers.SearchTypeahead)
		r.Get("/search/results", handlers.SearchResults)

		// Notification feed
		r.Get("/notifications", handlers.Notifications)
	})

	return r
}
