package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamfbridge/jamfbridge/internal/models"
)

const requestColumns = `request_id, crm_id, request_type, status, payload, encrypted_key,
	       COALESCE(checksum, ''), encryption_version, jamf_pro_id, error_message,
	       retry_count, created_at, updated_at, processed_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) CreateRequest(ctx context.Context, req *models.Request) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO jamf_requests (request_id, crm_id, request_type, status, payload,
			encrypted_key, checksum, encryption_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, now(), now())
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		req.RequestID, req.CRMID, req.RequestType, req.Status, req.Payload,
		req.EncryptedKey, req.Checksum, req.EncryptionVersion,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create request: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT ` + requestColumns + ` FROM jamf_requests WHERE request_id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	return req, nil
}

func (r *PostgresRepository) ListByCRM(ctx context.Context, crmID string, limit int) ([]*models.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT ` + requestColumns + `
		FROM jamf_requests
		WHERE crm_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, crmID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests for CRM: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

func (r *PostgresRepository) ListPending(ctx context.Context, limit int) ([]*models.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT ` + requestColumns + `
		FROM jamf_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// ClaimPending uses a single conditional UPDATE so that two overlapping
// drains never claim the same record. FOR UPDATE SKIP LOCKED keeps
// concurrent claimants from blocking on each other's candidate rows.
func (r *PostgresRepository) ClaimPending(ctx context.Context, limit int) ([]*models.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		UPDATE jamf_requests
		SET status = $1, updated_at = now()
		WHERE request_id IN (
			SELECT request_id FROM jamf_requests
			WHERE status = $2
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + requestColumns + `
	`

	rows, err := r.pool.Query(ctx, query, models.StatusProcessing, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending requests: %w", err)
	}
	defer rows.Close()

	reqs, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is not guaranteed; keep FIFO fairness.
	sortByCreatedAt(reqs)
	return reqs, nil
}

func (r *PostgresRepository) ReclaimStale(ctx context.Context, limit int, olderThan time.Duration) ([]*models.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		UPDATE jamf_requests
		SET updated_at = now()
		WHERE request_id IN (
			SELECT request_id FROM jamf_requests
			WHERE status = $1 AND updated_at < now() - $2::interval
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + requestColumns + `
	`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	rows, err := r.pool.Query(ctx, query, models.StatusProcessing, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale requests: %w", err)
	}
	defer rows.Close()

	reqs, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}

	sortByCreatedAt(reqs)
	return reqs, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, requestID string, status models.Status, upd StatusUpdate) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE jamf_requests
		SET status = $2,
		    jamf_pro_id = COALESCE($3, jamf_pro_id),
		    error_message = COALESCE($4, error_message),
		    retry_count = retry_count + CASE WHEN $4::text IS NOT NULL THEN 1 ELSE 0 END,
		    processed_at = CASE WHEN $5 THEN now() ELSE processed_at END,
		    updated_at = now()
		WHERE request_id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		requestID, status, upd.JamfProID, upd.ErrorMessage, status.Terminal(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update request status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *PostgresRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := `
		DELETE FROM jamf_requests
		WHERE created_at < now() - make_interval(days => $1)
		  AND status = ANY($2)
	`

	result, err := r.pool.Exec(ctx, query, days,
		[]string{string(models.StatusCompleted), string(models.StatusFailed)})
	if err != nil {
		return 0, fmt.Errorf("failed to purge old requests: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanRequest(row pgx.Row) (*models.Request, error) {
	var req models.Request
	err := row.Scan(
		&req.RequestID, &req.CRMID, &req.RequestType, &req.Status,
		&req.Payload, &req.EncryptedKey, &req.Checksum, &req.EncryptionVersion,
		&req.JamfProID, &req.ErrorMessage, &req.RetryCount,
		&req.CreatedAt, &req.UpdatedAt, &req.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]*models.Request, error) {
	var reqs []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return reqs, nil
}

func sortByCreatedAt(reqs []*models.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
