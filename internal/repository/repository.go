// Package repository persists request envelopes and enforces the status
// state machine at the storage boundary.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jamfbridge/jamfbridge/internal/models"
)

var (
	// ErrNotFound is returned when no request matches the given id.
	ErrNotFound = errors.New("request not found")
	// ErrDuplicate is returned when a request_id already exists.
	ErrDuplicate = errors.New("request already exists")
)

// StatusUpdate carries the optional fields of an UpdateStatus call.
// JamfProID is set when present; ErrorMessage is recorded and bumps
// retry_count when present.
type StatusUpdate struct {
	JamfProID    *string
	ErrorMessage *string
}

// Repository is the durable store for request envelopes.
//
// ClaimPending is the concurrency-critical operation: it must atomically
// select pending records and move them to processing so that overlapping
// drains never both own the same record.
type Repository interface {
	CreateRequest(ctx context.Context, req *models.Request) error
	GetRequest(ctx context.Context, requestID string) (*models.Request, error)

	// ListByCRM returns up to limit requests for a tenant, most recent first.
	ListByCRM(ctx context.Context, crmID string, limit int) ([]*models.Request, error)

	// ListPending returns up to limit pending requests, oldest first,
	// without claiming them. Read-only view for diagnostics.
	ListPending(ctx context.Context, limit int) ([]*models.Request, error)

	// ClaimPending atomically transitions up to limit pending requests
	// (oldest first) to processing and returns the claimed records.
	ClaimPending(ctx context.Context, limit int) ([]*models.Request, error)

	// ReclaimStale re-claims processing requests whose last update is older
	// than the staleness window, so records abandoned by an interrupted
	// drain do not sit in processing forever.
	ReclaimStale(ctx context.Context, limit int, olderThan time.Duration) ([]*models.Request, error)

	// UpdateStatus applies a status transition. It returns (false, nil)
	// when the request does not exist. A terminal status sets processed_at;
	// a non-nil ErrorMessage increments retry_count. The update is a single
	// atomic write with respect to concurrent callers.
	UpdateStatus(ctx context.Context, requestID string, status models.Status, upd StatusUpdate) (bool, error)

	// PurgeOlderThan deletes terminal requests created more than the given
	// number of days ago and returns the number removed. Pending and
	// processing records are never purged regardless of age.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)

	// Ping reports storage reachability for health checks.
	Ping(ctx context.Context) error

	Close()
}
