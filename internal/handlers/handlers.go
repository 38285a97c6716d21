// Package handlers implements the bridge HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jamfbridge/jamfbridge/common/httputil"
	"github.com/jamfbridge/jamfbridge/internal/models"
	"github.com/jamfbridge/jamfbridge/internal/processor"
	"github.com/jamfbridge/jamfbridge/internal/repository"
	"github.com/jamfbridge/jamfbridge/internal/service"
)

// HealthChecker reports secrets provider reachability for /healthz.
type HealthChecker interface {
	Health(ctx context.Context) bool
}

type RequestHandler struct {
	service *service.Service
	repo    repository.Repository
	vault   HealthChecker
	logger  *slog.Logger
}

func NewRequestHandler(svc *service.Service, repo repository.Repository, vault HealthChecker, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		service: svc,
		repo:    repo,
		vault:   vault,
		logger:  logger,
	}
}

// SubmitRequest handles POST /api/v1/requests.
func (h *RequestHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, repository.ErrDuplicate) {
			httputil.WriteError(w, http.StatusConflict, "request already exists")
			return
		}
		h.logger.Error("submission failed", "crm_id", req.CRMID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to store request")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, models.SubmitResponse{
		RequestID: record.RequestID,
		Status:    string(record.Status),
		Message:   "request accepted for processing",
	})
}

// GetRequest handles GET /api/v1/requests/{request_id}.
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")

	record, err := h.service.GetStatus(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "request not found")
			return
		}
		h.logger.Error("status lookup failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load request")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

// ListCRMRequests handles GET /api/v1/requests/crm/{crm_id}.
func (h *RequestHandler) ListCRMRequests(w http.ResponseWriter, r *http.Request) {
	crmID := r.PathValue("crm_id")
	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), 50)

	resp, err := h.service.ListByCRM(r.Context(), crmID, limit)
	if err != nil {
		h.logger.Error("listing failed", "crm_id", crmID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ProcessRequests handles POST /api/v1/process: an on-demand drain of the
// pending queue, for operators and for CRM batch jobs that want results
// immediately after submitting.
func (h *RequestHandler) ProcessRequests(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Drain(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrDrainBusy) {
			httputil.WriteError(w, http.StatusConflict, "processing already in progress")
			return
		}
		h.logger.Error("drain failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.ProcessResponse{
		ProcessedCount: result.Completed,
		Message:        drainMessage(result),
	})
}

func drainMessage(result *processor.Result) string {
	if result.Claimed == 0 {
		return "no pending requests"
	}
	if result.Failed > 0 {
		return "completed with failures"
	}
	return "all requests completed"
}

// PurgeRequests handles POST /api/v1/maintenance/purge.
func (h *RequestHandler) PurgeRequests(w http.ResponseWriter, r *http.Request) {
	var req models.PurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deleted, err := h.service.Purge(r.Context(), req.Days)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("purge failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "purge failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.PurgeResponse{Deleted: deleted})
}

// HealthCheck handles GET /healthz. It reports degraded dependencies with
// a 503 so load balancers stop routing to this instance.
func (h *RequestHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.repo.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if h.vault != nil {
		resp.VaultConnected = h.vault.Health(r.Context())
		if !resp.VaultConnected {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	httputil.WriteJSON(w, status, resp)
}
