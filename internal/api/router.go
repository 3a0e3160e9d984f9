/**
 * @description
 * This file sets up the HTTP router for the reconciliation-service. It
 * defines the API endpoints, associates them with their handlers, and
 * applies the auth middleware.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ReconciliationRoutes creates and returns the router for the service.
// Batch intake is guarded by the internal API key; maintenance endpoints
// require an operator JWT.
func ReconciliationRoutes(h *ReconciliationHandlers, internalAPIKey, operatorJWKSURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Server-to-server batch intake from collection jobs.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/sync/reconcile", h.ReconcileBatchHandler)
	})

	// Operator maintenance endpoints.
	r.Group(func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(operatorJWKSURL))

		r.Post("/maintenance/merge-duplicates", h.MergeDuplicatesHandler)
		r.Post("/maintenance/delete-orphans", h.DeleteOrphansHandler)
	})

	return r
}
