package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jamfbridge/jamfbridge/internal/models"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs migrations.
func setupTestDatabase(t *testing.T) *PostgresRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("jamfbridge_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo, err := NewPostgresRepository(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	t.Cleanup(repo.Close)

	return repo
}

func runMigrations(connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	migrationPath := filepath.Join("..", "..", "migrations", "001_init.up.sql")
	migrationSQL, err := os.ReadFile(migrationPath)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	return nil
}

func TestPostgresCreateAndGet(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	req := newRequest("crm-pg", models.RequestTypeCreate)
	req.Checksum = "ab" // stored as-is
	require.NoError(t, repo.CreateRequest(ctx, req))
	assert.False(t, req.CreatedAt.IsZero())

	got, err := repo.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, req.CRMID, got.CRMID)
	assert.Equal(t, req.Payload, got.Payload)
	assert.Equal(t, "ab", got.Checksum)
	assert.Equal(t, models.EncryptionVersionV1, got.EncryptionVersion)
	assert.Nil(t, got.ProcessedAt)
	assert.Nil(t, got.JamfProID)
}

func TestPostgresCreateDuplicate(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	req := newRequest("crm-pg", models.RequestTypeCreate)
	require.NoError(t, repo.CreateRequest(ctx, req))

	dup := newRequest("crm-pg", models.RequestTypeCreate)
	dup.RequestID = req.RequestID
	assert.ErrorIs(t, repo.CreateRequest(ctx, dup), ErrDuplicate)
}

func TestPostgresGetNotFound(t *testing.T) {
	repo := setupTestDatabase(t)

	_, err := repo.GetRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListPendingAndClaim(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		req := newRequest("crm-pg", models.RequestTypeCreate)
		require.NoError(t, repo.CreateRequest(ctx, req))
		ids = append(ids, req.RequestID)
		time.Sleep(5 * time.Millisecond) // distinct created_at for FIFO assertions
	}

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[0], pending[0].RequestID)

	claimed, err := repo.ClaimPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, ids[0], claimed[0].RequestID)
	assert.Equal(t, ids[1], claimed[1].RequestID)
	for _, req := range claimed {
		assert.Equal(t, models.StatusProcessing, req.Status)
	}

	remaining, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, ids[2], remaining[0].RequestID)
}

func TestPostgresConcurrentClaim(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	req := newRequest("crm-pg", models.RequestTypeCreate)
	require.NoError(t, repo.CreateRequest(ctx, req))

	const claimants = 8
	results := make(chan int, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimPending(ctx, 10)
			assert.NoError(t, err)
			results <- len(claimed)
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for n := range results {
		total += n
	}
	assert.Equal(t, 1, total)
}

func TestPostgresUpdateStatus(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	req := newRequest("crm-pg", models.RequestTypeCreate)
	require.NoError(t, repo.CreateRequest(ctx, req))

	ok, err := repo.UpdateStatus(ctx, req.RequestID, models.StatusProcessing, StatusUpdate{})
	require.NoError(t, err)
	assert.True(t, ok)

	jamfID := "77"
	ok, err = repo.UpdateStatus(ctx, req.RequestID, models.StatusCompleted, StatusUpdate{JamfProID: &jamfID})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.JamfProID)
	assert.Equal(t, "77", *got.JamfProID)
	assert.NotNil(t, got.ProcessedAt)
	assert.Zero(t, got.RetryCount)
}

func TestPostgresUpdateStatusFailure(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	req := newRequest("crm-pg", models.RequestTypeDelete)
	require.NoError(t, repo.CreateRequest(ctx, req))

	msg := "jamf_pro_id required for delete"
	ok, err := repo.UpdateStatus(ctx, req.RequestID, models.StatusFailed, StatusUpdate{ErrorMessage: &msg})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotNil(t, got.ProcessedAt)

	ok, err = repo.UpdateStatus(ctx, "missing", models.StatusFailed, StatusUpdate{ErrorMessage: &msg})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresReclaimStale(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	req := newRequest("crm-pg", models.RequestTypeCreate)
	require.NoError(t, repo.CreateRequest(ctx, req))
	_, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)

	// Not stale yet.
	stale, err := repo.ReclaimStale(ctx, 10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// With a zero-length window everything processing is stale.
	time.Sleep(50 * time.Millisecond)
	stale, err = repo.ReclaimStale(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, req.RequestID, stale[0].RequestID)
	assert.Equal(t, models.StatusProcessing, stale[0].Status)
}

func TestPostgresPurgeOlderThan(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	completed := newRequest("crm-pg", models.RequestTypeCreate)
	pending := newRequest("crm-pg", models.RequestTypeCreate)
	require.NoError(t, repo.CreateRequest(ctx, completed))
	require.NoError(t, repo.CreateRequest(ctx, pending))

	_, err := repo.UpdateStatus(ctx, completed.RequestID, models.StatusCompleted, StatusUpdate{})
	require.NoError(t, err)

	// Backdate both records past the retention window.
	_, err = repo.pool.Exec(ctx,
		`UPDATE jamf_requests SET created_at = now() - interval '60 days'`)
	require.NoError(t, err)

	deleted, err := repo.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = repo.GetRequest(ctx, completed.RequestID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetRequest(ctx, pending.RequestID)
	assert.NoError(t, err)
}

func TestPostgresListByCRM(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		req := newRequest("crm-list", models.RequestTypeCreate)
		require.NoError(t, repo.CreateRequest(ctx, req))
		ids = append(ids, req.RequestID)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, repo.CreateRequest(ctx, newRequest("crm-other", models.RequestTypeCreate)))

	got, err := repo.ListByCRM(ctx, "crm-list", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].RequestID)
	assert.Equal(t, ids[1], got[1].RequestID)
}
