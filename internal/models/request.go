// Package models defines the persisted request envelope and the API types
// exchanged with the CRM.
package models

import "time"

// Status is the lifecycle state of a request. Transitions only move
// forward: pending -> processing -> completed | failed. Nothing ever
// returns to pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RequestType is the operation requested against Jamf Pro.
type RequestType string

const (
	RequestTypeCreate RequestType = "create"
	RequestTypeUpdate RequestType = "update"
	RequestTypeDelete RequestType = "delete"
)

// Valid reports whether t is one of the supported request types.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeCreate, RequestTypeUpdate, RequestTypeDelete:
		return true
	}
	return false
}

// EncryptionVersionV1 identifies the current payload encryption scheme
// (PBKDF2 + AES-256-GCM). Bumped when the shared secret scheme rotates.
const EncryptionVersionV1 = "v1"

// Request is one CRM-submitted change request: encrypted payload plus
// processing metadata. Rows are created by the ingestion path with status
// pending and mutated only by the dispatch processor afterwards.
type Request struct {
	RequestID   string      `json:"request_id"`
	CRMID       string      `json:"crm_id"`
	RequestType RequestType `json:"request_type"`
	Status      Status      `json:"status"`

	// Payload is the encrypted business data, opaque to storage.
	// EncryptedKey carries the CRM-wrapped key material from the wire
	// format; the processor derives its key from the shared secret instead
	// and stores this field for audit only.
	Payload      string `json:"payload"`
	EncryptedKey string `json:"encrypted_key"`

	// Checksum is the SHA-256 hex digest of the plaintext at submission
	// time, verified after decryption. Empty when the CRM did not send one.
	Checksum          string `json:"checksum,omitempty"`
	EncryptionVersion string `json:"encryption_version"`

	// JamfProID is assigned by Jamf Pro once a create succeeds and is
	// required input for update/delete.
	JamfProID    *string `json:"jamf_pro_id,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	RetryCount   int     `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
