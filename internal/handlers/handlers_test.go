package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamfbridge/jamfbridge/internal/crypto"
	"github.com/jamfbridge/jamfbridge/internal/events"
	"github.com/jamfbridge/jamfbridge/internal/models"
	"github.com/jamfbridge/jamfbridge/internal/processor"
	"github.com/jamfbridge/jamfbridge/internal/repository"
	"github.com/jamfbridge/jamfbridge/internal/service"
)

type stubAdapter struct{}

func (stubAdapter) CreateComputer(context.Context, *models.EmployeeRecord) (string, error) {
	return "700", nil
}
func (stubAdapter) UpdateComputer(context.Context, string, *models.EmployeeRecord) error { return nil }
func (stubAdapter) DeleteComputer(context.Context, string) error                         { return nil }

type stubVault struct{ healthy bool }

func (v stubVault) Health(context.Context) bool { return v.healthy }

type env struct {
	handler *RequestHandler
	repo    *repository.InMemoryRepository
	engine  *crypto.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()

	engine, err := crypto.NewEngine("handler-test-secret")
	require.NoError(t, err)

	repo := repository.NewInMemoryRepository()
	logger := slog.New(slog.DiscardHandler)
	proc := processor.New(repo, engine, stubAdapter{}, events.NoopPublisher{}, logger, processor.Config{BatchSize: 10})
	svc := service.New(repo, proc, nil, logger)

	return &env{
		handler: NewRequestHandler(svc, repo, stubVault{healthy: true}, logger),
		repo:    repo,
		engine:  engine,
	}
}

func (e *env) submitBody(t *testing.T, crmID string) []byte {
	t.Helper()

	record := models.EmployeeRecord{
		EmployeeID: "EMP-9",
		Email:      "noor.haddad@example.com",
		FullName:   "Noor Haddad",
		Device:     models.DeviceInfo{Serial: "FVFXC2ABHV29"},
	}
	plaintext, err := json.Marshal(record)
	require.NoError(t, err)

	payload, err := e.engine.Encrypt(plaintext)
	require.NoError(t, err)
	key, err := e.engine.Encrypt([]byte("wrapped-key"))
	require.NoError(t, err)

	body, err := json.Marshal(models.SubmitRequest{
		CRMID:        crmID,
		RequestType:  models.RequestTypeCreate,
		Payload:      payload,
		EncryptedKey: key,
		Checksum:     crypto.Checksum(plaintext),
	})
	require.NoError(t, err)
	return body
}

func TestSubmitRequest(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader(e.submitBody(t, "CRM-7")))
	w := httptest.NewRecorder()
	e.handler.SubmitRequest(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp models.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "pending", resp.Status)

	stored, err := e.repo.GetRequest(context.Background(), resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "CRM-7", stored.CRMID)
}

func TestSubmitRequestInvalidBody(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	e.handler.SubmitRequest(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitRequestValidationError(t *testing.T) {
	e := newEnv(t)

	body, err := json.Marshal(models.SubmitRequest{CRMID: "", RequestType: "create"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.handler.SubmitRequest(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "crm_id")
}

func TestGetRequest(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader(e.submitBody(t, "CRM-7")))
	w := httptest.NewRecorder()
	e.handler.SubmitRequest(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var submitted models.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/requests/"+submitted.RequestID, nil)
	r.SetPathValue("request_id", submitted.RequestID)
	w = httptest.NewRecorder()
	e.handler.GetRequest(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var record models.Request
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, submitted.RequestID, record.RequestID)
	assert.Equal(t, models.StatusPending, record.Status)
}

func TestGetRequestNotFound(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/requests/missing", nil)
	r.SetPathValue("request_id", "missing")
	w := httptest.NewRecorder()
	e.handler.GetRequest(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCRMRequests(t *testing.T) {
	e := newEnv(t)

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader(e.submitBody(t, "CRM-7")))
		w := httptest.NewRecorder()
		e.handler.SubmitRequest(w, r)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/requests/crm/CRM-7?limit=2", nil)
	r.SetPathValue("crm_id", "CRM-7")
	w := httptest.NewRecorder()
	e.handler.ListCRMRequests(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.CRMRequestsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CRM-7", resp.CRMID)
	assert.Len(t, resp.Requests, 2)
}

func TestProcessRequests(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewReader(e.submitBody(t, "CRM-7")))
	w := httptest.NewRecorder()
	e.handler.SubmitRequest(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/api/v1/process", nil)
	w = httptest.NewRecorder()
	e.handler.ProcessRequests(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ProcessedCount)
	assert.Equal(t, "all requests completed", resp.Message)
}

func TestProcessRequestsEmptyQueue(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/process", nil)
	w := httptest.NewRecorder()
	e.handler.ProcessRequests(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.ProcessedCount)
	assert.Equal(t, "no pending requests", resp.Message)
}

func TestPurgeRequests(t *testing.T) {
	e := newEnv(t)

	body, err := json.Marshal(models.PurgeRequest{Days: 30})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/purge", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.handler.PurgeRequests(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.PurgeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Deleted)
}

func TestPurgeRequestsInvalidDays(t *testing.T) {
	e := newEnv(t)

	body, err := json.Marshal(models.PurgeRequest{Days: 0})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/purge", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.handler.PurgeRequests(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	e := newEnv(t)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.handler.HealthCheck(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.VaultConnected)
}

func TestHealthCheckDegradedVault(t *testing.T) {
	e := newEnv(t)
	e.handler.vault = stubVault{healthy: false}

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.handler.HealthCheck(w, r)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.VaultConnected)
}
