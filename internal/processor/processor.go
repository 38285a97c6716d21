// Package processor drains pending change requests from the store,
// decrypts their payloads, and applies them against Jamf Pro.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jamfbridge/jamfbridge/internal/crypto"
	"github.com/jamfbridge/jamfbridge/internal/events"
	"github.com/jamfbridge/jamfbridge/internal/jamf"
	"github.com/jamfbridge/jamfbridge/internal/metrics"
	"github.com/jamfbridge/jamfbridge/internal/models"
	"github.com/jamfbridge/jamfbridge/internal/repository"
)

// RemoteAdapter is the device-management surface the processor dispatches
// to. *jamf.Client satisfies it; tests substitute their own.
type RemoteAdapter interface {
	CreateComputer(ctx context.Context, rec *models.EmployeeRecord) (string, error)
	UpdateComputer(ctx context.Context, jamfProID string, rec *models.EmployeeRecord) error
	DeleteComputer(ctx context.Context, jamfProID string) error
}

// Config tunes a processing run.
type Config struct {
	// BatchSize caps how many requests one drain claims.
	BatchSize int
	// StaleAfter is how long a request may sit in processing before a
	// drain re-claims it as abandoned. Zero disables reclaiming.
	StaleAfter time.Duration
}

// Result summarizes one drain.
type Result struct {
	Claimed   int
	Completed int
	Failed    int
	Reclaimed int
}

// Processor applies claimed requests to the remote adapter one at a time,
// recording each outcome before moving to the next.
type Processor struct {
	repo      repository.Repository
	engine    *crypto.Engine
	adapter   RemoteAdapter
	publisher events.Publisher
	logger    *slog.Logger
	cfg       Config
}

func New(repo repository.Repository, engine *crypto.Engine, adapter RemoteAdapter, publisher events.Publisher, logger *slog.Logger, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Processor{
		repo:      repo,
		engine:    engine,
		adapter:   adapter,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// Drain claims one batch of pending requests and dispatches them. A
// failing request is marked failed and does not stop the rest of the
// batch. Only store-level errors abort the run.
func (p *Processor) Drain(ctx context.Context) (*Result, error) {
	result := &Result{}

	if p.cfg.StaleAfter > 0 {
		reclaimed, err := p.repo.ReclaimStale(ctx, p.cfg.BatchSize, p.cfg.StaleAfter)
		if err != nil {
			return nil, fmt.Errorf("failed to reclaim stale requests: %w", err)
		}
		if len(reclaimed) > 0 {
			metrics.StaleReclaimed.Add(float64(len(reclaimed)))
			p.logger.Warn("reclaimed stuck requests", "count", len(reclaimed))
			result.Reclaimed = len(reclaimed)
			p.dispatchBatch(ctx, reclaimed, result)
		}
	}

	claimed, err := p.repo.ClaimPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending requests: %w", err)
	}
	result.Claimed = len(claimed) + result.Reclaimed
	p.dispatchBatch(ctx, claimed, result)

	if pending, err := p.repo.ListPending(ctx, p.cfg.BatchSize); err == nil {
		metrics.PendingQueueDepth.Set(float64(len(pending)))
	}

	return result, nil
}

func (p *Processor) dispatchBatch(ctx context.Context, batch []*models.Request, result *Result) {
	for _, req := range batch {
		if err := ctx.Err(); err != nil {
			return
		}
		if p.dispatch(ctx, req) {
			result.Completed++
		} else {
			result.Failed++
		}
	}
}

// dispatch applies one claimed request and persists its terminal status.
// It returns true when the request completed.
func (p *Processor) dispatch(ctx context.Context, req *models.Request) bool {
	start := time.Now()
	logger := p.logger.With(
		"request_id", req.RequestID,
		"crm_id", req.CRMID,
		"request_type", string(req.RequestType),
	)

	jamfProID, dispatchErr := p.apply(ctx, req)

	duration := time.Since(start)
	metrics.ProcessDuration.Observe(duration.Seconds())

	if dispatchErr != nil {
		metrics.RequestsProcessed.WithLabelValues("failed").Inc()
		logger.Error("request failed",
			"error", dispatchErr,
			"duration_ms", duration.Milliseconds(),
		)
		p.recordOutcome(ctx, req, models.StatusFailed, jamfProID, dispatchErr.Error(), logger)
		return false
	}

	metrics.RequestsProcessed.WithLabelValues("completed").Inc()
	logger.Info("request completed",
		"jamf_pro_id", jamfProID,
		"duration_ms", duration.Milliseconds(),
	)
	p.recordOutcome(ctx, req, models.StatusCompleted, jamfProID, "", logger)
	return true
}

// apply decrypts the payload and performs the remote operation. The
// returned Jamf Pro id is non-empty for creates and for updates and
// deletes that resolved one.
func (p *Processor) apply(ctx context.Context, req *models.Request) (string, error) {
	plaintext, ok, err := p.engine.DecryptAndVerify(req.Payload, req.Checksum)
	if err != nil {
		metrics.DecryptFailures.Inc()
		return "", fmt.Errorf("payload decryption failed: %w", err)
	}
	if !ok {
		metrics.DecryptFailures.Inc()
		return "", errors.New("payload integrity check failed: checksum mismatch")
	}

	var record models.EmployeeRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return "", fmt.Errorf("payload is not a valid employee record: %w", err)
	}

	switch req.RequestType {
	case models.RequestTypeCreate:
		id, err := p.adapter.CreateComputer(ctx, &record)
		if err != nil {
			metrics.RemoteErrors.WithLabelValues("create").Inc()
			return "", fmt.Errorf("jamf create failed: %w", err)
		}
		return id, nil

	case models.RequestTypeUpdate:
		id := resolveJamfProID(req, &record)
		if id == "" {
			return "", errors.New("update request has no jamf_pro_id")
		}
		if err := p.adapter.UpdateComputer(ctx, id, &record); err != nil {
			metrics.RemoteErrors.WithLabelValues("update").Inc()
			return id, fmt.Errorf("jamf update failed: %w", err)
		}
		return id, nil

	case models.RequestTypeDelete:
		id := resolveJamfProID(req, &record)
		if id == "" {
			return "", errors.New("delete request has no jamf_pro_id")
		}
		if err := p.adapter.DeleteComputer(ctx, id); err != nil {
			metrics.RemoteErrors.WithLabelValues("delete").Inc()
			return id, fmt.Errorf("jamf delete failed: %w", err)
		}
		return id, nil

	default:
		return "", fmt.Errorf("unknown request type %q", req.RequestType)
	}
}

// resolveJamfProID prefers the id stored on the request row (set when a
// create completed) over the one the CRM sent in the payload.
func resolveJamfProID(req *models.Request, record *models.EmployeeRecord) string {
	if req.JamfProID != nil && *req.JamfProID != "" {
		return *req.JamfProID
	}
	return record.JamfProID
}

func (p *Processor) recordOutcome(ctx context.Context, req *models.Request, status models.Status, jamfProID, errorMessage string, logger *slog.Logger) {
	upd := repository.StatusUpdate{}
	if jamfProID != "" {
		upd.JamfProID = &jamfProID
	}
	if errorMessage != "" {
		upd.ErrorMessage = &errorMessage
	}

	found, err := p.repo.UpdateStatus(ctx, req.RequestID, status, upd)
	if err != nil {
		logger.Error("failed to record request outcome", "status", string(status), "error", err)
		return
	}
	if !found {
		logger.Error("request vanished before outcome could be recorded", "status", string(status))
		return
	}

	p.publishOutcome(ctx, req, status, jamfProID, errorMessage, logger)
}

// publishOutcome emits a lifecycle event. Publish failures are logged
// and never affect the stored outcome.
func (p *Processor) publishOutcome(ctx context.Context, req *models.Request, status models.Status, jamfProID, errorMessage string, logger *slog.Logger) {
	event := &events.RequestEvent{
		RequestID:    req.RequestID,
		CRMID:        req.CRMID,
		RequestType:  string(req.RequestType),
		Status:       string(status),
		JamfProID:    jamfProID,
		ErrorMessage: errorMessage,
		RetryCount:   req.RetryCount,
		OccurredAt:   time.Now().UTC(),
	}

	var err error
	if status == models.StatusCompleted {
		err = p.publisher.PublishRequestCompleted(ctx, event)
	} else {
		err = p.publisher.PublishRequestFailed(ctx, event)
	}
	if err != nil {
		logger.Warn("failed to publish lifecycle event", "status", string(status), "error", err)
	}
}

var _ RemoteAdapter = (*jamf.Client)(nil)
