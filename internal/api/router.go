/**
 * @description
 * This file sets up the HTTP router for the assignment-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, panic recovery, timeouts, CORS, and
 * authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the browser-facing /v1 routes.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the assignment service.
func Routes(h *AssignmentHandlers, webhook *WebhookHandler, authCfg AuthMiddlewareConfig) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for logging and panic recovery. The request
	// timeout is applied per-group below so the presence watch stream can
	// stay open past it.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check endpoint
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("healthy"))
		})

		// The webhook endpoint does its own method handling (OPTIONS
		// preflight, POST) and signature-based authentication.
		r.Handle("/webhooks/lemon-squeezy", webhook)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"https://*", "http://*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(AuthMiddleware(authCfg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/assignments", h.CreateAssignmentHandler)
			r.Get("/assignments", h.ListAssignmentsHandler)
			r.Get("/assignments/{assignmentID}", h.GetAssignmentHandler)
			r.Patch("/assignments/{assignmentID}/status", h.UpdateAssignmentStatusHandler)
			r.Get("/assignments/{assignmentID}/payments", h.ListPaymentsHandler)

			r.Put("/presence", h.UpdatePresenceHandler)
			r.Post("/presence/heartbeat", h.PresenceHeartbeatHandler)
			r.Delete("/presence", h.EndPresenceHandler)
			r.Get("/users/{userID}/presence", h.GetPresenceHandler)
		})

		// The watch stream is long lived: it holds the connection open until
		// the client disconnects, so it must not run under the request
		// timeout.
		r.Get("/users/{userID}/presence/watch", h.WatchPresenceHandler)
	})

	return r
}
