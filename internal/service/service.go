// Package service implements the broker's business operations between the
// HTTP surface and the store: submission validation, status lookups,
// on-demand drains, and retention maintenance.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jamfbridge/jamfbridge/internal/crypto"
	"github.com/jamfbridge/jamfbridge/internal/lock"
	"github.com/jamfbridge/jamfbridge/internal/metrics"
	"github.com/jamfbridge/jamfbridge/internal/models"
	"github.com/jamfbridge/jamfbridge/internal/processor"
	"github.com/jamfbridge/jamfbridge/internal/repository"
)

var (
	// ErrValidation marks submission failures the caller can fix.
	ErrValidation = errors.New("validation failed")
	// ErrDrainBusy means another instance holds the drain lock.
	ErrDrainBusy = errors.New("drain already in progress")
)

const defaultListLimit = 50

// DrainLock is the subset of lock.Lock the service needs. Nil disables
// drain coordination entirely.
type DrainLock interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// Service wires the store, processor, and drain lock together.
type Service struct {
	repo      repository.Repository
	processor *processor.Processor
	drainLock DrainLock
	logger    *slog.Logger
}

func New(repo repository.Repository, proc *processor.Processor, drainLock DrainLock, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		processor: proc,
		drainLock: drainLock,
		logger:    logger,
	}
}

// Submit validates and persists a change request. Payload contents stay
// opaque: validation is structural only, since the ingestion path never
// decrypts.
func (s *Service) Submit(ctx context.Context, req *models.SubmitRequest) (*models.Request, error) {
	if err := validateSubmit(req); err != nil {
		metrics.RequestsRejected.Inc()
		return nil, err
	}

	record := &models.Request{
		RequestID:         uuid.NewString(),
		CRMID:             req.CRMID,
		RequestType:       req.RequestType,
		Status:            models.StatusPending,
		Payload:           req.Payload,
		EncryptedKey:      req.EncryptedKey,
		Checksum:          req.Checksum,
		EncryptionVersion: models.EncryptionVersionV1,
	}

	if err := s.repo.CreateRequest(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store request: %w", err)
	}

	metrics.RequestsReceived.WithLabelValues(string(req.RequestType)).Inc()
	s.logger.Info("request accepted",
		"request_id", record.RequestID,
		"crm_id", record.CRMID,
		"request_type", string(record.RequestType),
	)
	return record, nil
}

func validateSubmit(req *models.SubmitRequest) error {
	if req.CRMID == "" {
		return fmt.Errorf("%w: crm_id is required", ErrValidation)
	}
	if !req.RequestType.Valid() {
		return fmt.Errorf("%w: request_type must be create, update, or delete", ErrValidation)
	}
	if req.Payload == "" {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if !crypto.ValidateEnvelope(req.Payload) {
		return fmt.Errorf("%w: payload is not a valid encrypted envelope", ErrValidation)
	}
	if req.EncryptedKey == "" {
		return fmt.Errorf("%w: encrypted_key is required", ErrValidation)
	}
	if !crypto.ValidateEnvelope(req.EncryptedKey) {
		return fmt.Errorf("%w: encrypted_key is not a valid encrypted envelope", ErrValidation)
	}
	return nil
}

// GetStatus returns one request by id. Repository.ErrNotFound passes
// through for the handler to map.
func (s *Service) GetStatus(ctx context.Context, requestID string) (*models.Request, error) {
	return s.repo.GetRequest(ctx, requestID)
}

// ListByCRM returns a tenant's requests, most recent first.
func (s *Service) ListByCRM(ctx context.Context, crmID string, limit int) (*models.CRMRequestsResponse, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.repo.ListByCRM(ctx, crmID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	resp := &models.CRMRequestsResponse{
		CRMID:    crmID,
		Requests: make([]models.RequestSummary, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Requests = append(resp.Requests, models.RequestSummary{
			RequestID:   row.RequestID,
			Status:      row.Status,
			RequestType: row.RequestType,
			JamfProID:   row.JamfProID,
			CreatedAt:   row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}

// Drain runs one processing pass. When a drain lock is configured only
// one instance drains at a time; a busy lock is reported as ErrDrainBusy
// rather than waited on.
func (s *Service) Drain(ctx context.Context) (*processor.Result, error) {
	if s.drainLock != nil {
		release, err := s.drainLock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, ErrDrainBusy
			}
			// Lock infrastructure trouble must not stall the queue.
			s.logger.Warn("drain lock unavailable, proceeding without it", "error", err)
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("failed to release drain lock", "error", err)
				}
			}()
		}
	}

	return s.processor.Drain(ctx)
}

// Purge deletes terminal requests older than the given number of days.
func (s *Service) Purge(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrValidation)
	}

	deleted, err := s.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("failed to purge requests: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("purged old requests", "deleted", deleted, "days", days)
	}
	return deleted, nil
}
