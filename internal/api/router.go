// Package api exposes the operator controls of a running harvester over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/txn-harvester/internal/api/handlers"
	"github.com/dvloznov/txn-harvester/internal/api/middleware"
)

// NewRouter wires the handlers. journal may be nil when no journal is
// configured; a non-empty secret requires JWT bearer auth on /api.
func NewRouter(log zerolog.Logger, runnerHandler *handlers.RunnerHandler, journalHandler *handlers.JournalHandler, secret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(secret))

		r.Get("/status", runnerHandler.GetStatus)
		r.Get("/runs", runnerHandler.ListRuns)

		r.Route("/runner", func(r chi.Router) {
			r.Post("/start", runnerHandler.Start)
			r.Post("/stop", runnerHandler.Stop)
			r.Post("/reset", runnerHandler.Reset)
			r.Post("/resume", runnerHandler.Resume)
		})

		if journalHandler != nil {
			r.Get("/journal", journalHandler.List)
		}
	})

	return r
}
