// Package jamf is the remote adapter for the Jamf Pro API: it turns
// decrypted employee records into computer create/update/delete calls.
package jamf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jamfbridge/jamfbridge/internal/models"
)

var (
	// ErrRecordNotFound is returned when Jamf Pro has no record for the
	// given id or serial number.
	ErrRecordNotFound = errors.New("jamf record not found")
	// ErrIncompleteRecord is returned before any remote call when the
	// employee payload lacks required fields.
	ErrIncompleteRecord = errors.New("incomplete employee record")
)

// Config holds the Jamf Pro connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	// APIKey, when set, is used as a static bearer token instead of the
	// username/password token flow.
	APIKey  string
	Timeout time.Duration
}

// Client talks to the Jamf Pro v1 API. Bearer tokens obtained via the
// username/password flow are cached until shortly before expiry; the cache
// is safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	apiKey     string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type authTokenResponse struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// bearerToken returns a token for the Authorization header, fetching a new
// one via the auth endpoint when the cached token is missing or near expiry.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/token", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed: status %d", resp.StatusCode)
	}

	var tokenResp authTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", errors.New("token response missing token")
	}

	c.token = tokenResp.Token
	c.tokenExpiry = tokenResp.Expires
	if c.tokenExpiry.IsZero() {
		c.tokenExpiry = time.Now().Add(15 * time.Minute)
	}

	return c.token, nil
}

// doJSON executes one authenticated API call and decodes the response into
// out when out is non-nil. 404 maps to ErrRecordNotFound; any other non-2xx
// status is an error carrying the response body for diagnosis.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return fmt.Errorf("jamf authentication failed: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRecordNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("jamf request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

type computerPayload struct {
	General             map[string]any   `json:"general"`
	Location            map[string]any   `json:"location"`
	ExtensionAttributes []map[string]any `json:"extension_attributes,omitempty"`
}

func buildComputerPayload(rec *models.EmployeeRecord) *computerPayload {
	platform := rec.Device.Platform
	if platform == "" {
		platform = "Mac"
	}
	return &computerPayload{
		General: map[string]any{
			"name":          fmt.Sprintf("%s - %s", rec.FullName, rec.EmployeeID),
			"serial_number": rec.Device.Serial,
			"platform":      platform,
			"os_version":    rec.Device.OSVersion,
		},
		Location: map[string]any{
			"username":   rec.Email,
			"real_name":  rec.FullName,
			"email":      rec.Email,
			"department": rec.Department,
		},
		ExtensionAttributes: []map[string]any{
			{"id": 1, "name": "Employee ID", "type": "String", "value": rec.EmployeeID},
		},
	}
}

type createComputerResponse struct {
	ID json.Number `json:"id"`
}

// CreateComputer creates a computer record and returns the id Jamf Pro
// assigned to it.
func (c *Client) CreateComputer(ctx context.Context, rec *models.EmployeeRecord) (string, error) {
	if !rec.Complete() {
		return "", ErrIncompleteRecord
	}

	var resp createComputerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/computers", buildComputerPayload(rec), &resp); err != nil {
		return "", err
	}
	if resp.ID.String() == "" {
		return "", errors.New("jamf response missing record id")
	}

	return resp.ID.String(), nil
}

// UpdateComputer updates an existing record. The current record is fetched
// first so a missing id surfaces as ErrRecordNotFound before the write.
func (c *Client) UpdateComputer(ctx context.Context, jamfProID string, rec *models.EmployeeRecord) error {
	if rec.Email == "" || rec.FullName == "" {
		return ErrIncompleteRecord
	}

	if err := c.doJSON(ctx, http.MethodGet, "/computers/id/"+jamfProID, nil, nil); err != nil {
		return err
	}

	update := map[string]any{
		"general": map[string]any{
			"name":       fmt.Sprintf("%s - %s", rec.FullName, rec.EmployeeID),
			"os_version": rec.Device.OSVersion,
		},
		"location": map[string]any{
			"username":  rec.Email,
			"real_name": rec.FullName,
			"email":     rec.Email,
		},
	}

	return c.doJSON(ctx, http.MethodPut, "/computers/id/"+jamfProID, update, nil)
}

// DeleteComputer removes a record from Jamf Pro.
func (c *Client) DeleteComputer(ctx context.Context, jamfProID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/computers/id/"+jamfProID, nil, nil)
}

// Computer is the subset of a Jamf Pro computer record used by callers.
type Computer struct {
	ID           json.Number `json:"id"`
	Name         string      `json:"name"`
	SerialNumber string      `json:"serial_number"`
}

// FindComputerBySerial looks up a record by device serial number.
func (c *Client) FindComputerBySerial(ctx context.Context, serial string) (*Computer, error) {
	var computer Computer
	if err := c.doJSON(ctx, http.MethodGet, "/computers/serialnumber/"+serial, nil, &computer); err != nil {
		return nil, err
	}
	return &computer, nil
}

// Ping verifies connectivity and credentials against the computers listing.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/computers", nil, nil)
}
