package models

// SubmitRequest is the inbound ingestion contract. The payload and
// encrypted_key fields carry transport-safe encrypted envelopes; checksum
// is the SHA-256 hex digest of the plaintext, optional on the wire.
type SubmitRequest struct {
	CRMID        string      `json:"crm_id"`
	RequestType  RequestType `json:"request_type"`
	Payload      string      `json:"payload"`
	EncryptedKey string      `json:"encrypted_key"`
	Checksum     string      `json:"checksum,omitempty"`
}

// SubmitResponse is returned on successful submission.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// RequestSummary is the compact form used in tenant listings.
type RequestSummary struct {
	RequestID   string      `json:"request_id"`
	Status      Status      `json:"status"`
	RequestType RequestType `json:"request_type"`
	JamfProID   *string     `json:"jamf_pro_id,omitempty"`
	CreatedAt   string      `json:"created_at"`
}

// CRMRequestsResponse is the tenant listing contract.
type CRMRequestsResponse struct {
	CRMID    string           `json:"crm_id"`
	Requests []RequestSummary `json:"requests"`
}

// ProcessResponse reports the outcome of one drain invocation.
type ProcessResponse struct {
	ProcessedCount int    `json:"processed_count"`
	Message        string `json:"message,omitempty"`
}

// PurgeRequest is the maintenance cleanup contract.
type PurgeRequest struct {
	Days int `json:"days"`
}

// PurgeResponse reports how many terminal records were removed.
type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}

// HealthResponse summarizes dependency reachability for /healthz.
type HealthResponse struct {
	Status         string `json:"status"`
	VaultConnected bool   `json:"vault_connected"`
	Database       string `json:"database"`
}
