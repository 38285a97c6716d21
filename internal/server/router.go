// Package server assembles the HTTP routing for the bridge API.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamfbridge/jamfbridge/common/middleware"
	"github.com/jamfbridge/jamfbridge/internal/handlers"
	authmw "github.com/jamfbridge/jamfbridge/internal/middleware"
)

// NewRouter constructs a ServeMux with the bridge API routes registered.
// All /api/v1 routes require authentication; health and metrics are open
// for probes and scrapers.
func NewRouter(h *handlers.RequestHandler, authMW *authmw.AuthMiddleware) http.Handler {
	mux := http.NewServeMux()

	// Request lifecycle endpoints
	mux.HandleFunc("POST /api/v1/requests", authMW.RequireAuth(h.SubmitRequest))
	mux.HandleFunc("GET /api/v1/requests/{request_id}", authMW.RequireAuth(h.GetRequest))
	mux.HandleFunc("GET /api/v1/requests/crm/{crm_id}", authMW.RequireAuth(h.ListCRMRequests))

	// On-demand processing
	mux.HandleFunc("POST /api/v1/process", authMW.RequireAuth(h.ProcessRequests))

	// Maintenance
	mux.HandleFunc("POST /api/v1/maintenance/purge", authMW.RequireAuth(h.PurgeRequests))

	// Health check and metrics (public)
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
