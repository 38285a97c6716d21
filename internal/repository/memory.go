package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jamfbridge/jamfbridge/internal/models"
)

// InMemoryRepository is a mutex-guarded map store used in development mode
// and in tests. It implements the same claim semantics as the Postgres
// repository: claims happen under a single lock hold, so concurrent
// drains never both own a record.
type InMemoryRepository struct {
	requests map[string]*models.Request
	mu       sync.RWMutex
	now      func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		requests: make(map[string]*models.Request),
		now:      time.Now,
	}
}

func (r *InMemoryRepository) Close() {}

func (r *InMemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *InMemoryRepository) CreateRequest(ctx context.Context, req *models.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.RequestID]; exists {
		return ErrDuplicate
	}

	now := r.now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	stored := *req
	r.requests[req.RequestID] = &stored
	return nil
}

func (r *InMemoryRepository) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, exists := r.requests[requestID]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *req
	return &copied, nil
}

func (r *InMemoryRepository) ListByCRM(ctx context.Context, crmID string, limit int) ([]*models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var reqs []*models.Request
	for _, req := range r.requests {
		if req.CRMID == crmID {
			copied := *req
			reqs = append(reqs, &copied)
		}
	}

	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	if len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

func (r *InMemoryRepository) ListPending(ctx context.Context, limit int) ([]*models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pendingLocked(limit), nil
}

func (r *InMemoryRepository) ClaimPending(ctx context.Context, limit int) ([]*models.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	claimed := r.pendingLocked(limit)
	now := r.now().UTC()
	for _, req := range claimed {
		stored := r.requests[req.RequestID]
		stored.Status = models.StatusProcessing
		stored.UpdatedAt = now
		req.Status = models.StatusProcessing
		req.UpdatedAt = now
	}
	return claimed, nil
}

func (r *InMemoryRepository) ReclaimStale(ctx context.Context, limit int, olderThan time.Duration) ([]*models.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	cutoff := now.Add(-olderThan)

	var stale []*models.Request
	for _, req := range r.requests {
		if req.Status == models.StatusProcessing && req.UpdatedAt.Before(cutoff) {
			copied := *req
			stale = append(stale, &copied)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}

	for _, req := range stale {
		stored := r.requests[req.RequestID]
		stored.UpdatedAt = now
		req.UpdatedAt = now
	}
	return stale, nil
}

func (r *InMemoryRepository) UpdateStatus(ctx context.Context, requestID string, status models.Status, upd StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.requests[requestID]
	if !exists {
		return false, nil
	}

	now := r.now().UTC()
	req.Status = status
	if upd.JamfProID != nil {
		id := *upd.JamfProID
		req.JamfProID = &id
	}
	if upd.ErrorMessage != nil {
		msg := *upd.ErrorMessage
		req.ErrorMessage = &msg
		req.RetryCount++
	}
	if status.Terminal() {
		processed := now
		req.ProcessedAt = &processed
	}
	req.UpdatedAt = now
	return true, nil
}

func (r *InMemoryRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().AddDate(0, 0, -days)
	var deleted int64
	for id, req := range r.requests {
		if req.Status.Terminal() && req.CreatedAt.Before(cutoff) {
			delete(r.requests, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *InMemoryRepository) pendingLocked(limit int) []*models.Request {
	var reqs []*models.Request
	for _, req := range r.requests {
		if req.Status == models.StatusPending {
			copied := *req
			reqs = append(reqs, &copied)
		}
	}

	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	if len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs
}
