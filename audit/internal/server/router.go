// Package server provides HTTP server setup for the audit service.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/handlers"
	"github.com/telhawk-systems/telhawk-audit/common/middleware"
)

// NewRouter constructs a ServeMux with audit API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Ingress
	mux.HandleFunc("POST /api/v1/events", h.SubmitEvent)
	mux.HandleFunc("POST /api/v1/route", h.RouteEvent)

	// Reads
	mux.HandleFunc("GET /api/v1/events/{id}", h.GetEvent)
	mux.HandleFunc("GET /api/v1/entities/{entityId}/events", h.ListEntityEvents)
	mux.HandleFunc("GET /api/v1/authors/{author}/events", h.ListAuthorEvents)
	mux.HandleFunc("GET /api/v1/archive", h.GetArchive)
	mux.HandleFunc("GET /api/v1/executions/{id}", h.GetExecution)
	mux.HandleFunc("GET /api/v1/dlq", h.ListDeadLetters)

	return middleware.RequestID(mux)
}
