// Package events publishes request lifecycle notifications to NATS so
// downstream consumers (CRM sync jobs, audit pipelines) can react to
// completed and failed change requests without polling the store.
package events

import (
	"context"
	"time"
)

// Subjects for lifecycle notifications.
const (
	SubjectRequestCompleted = "jamfbridge.requests.completed"
	SubjectRequestFailed    = "jamfbridge.requests.failed"
)

// RequestEvent is the payload published on request completion or failure.
type RequestEvent struct {
	RequestID    string    `json:"request_id"`
	CRMID        string    `json:"crm_id"`
	RequestType  string    `json:"request_type"`
	Status       string    `json:"status"`
	JamfProID    string    `json:"jamf_pro_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher emits lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishRequestCompleted(ctx context.Context, event *RequestEvent) error
	PublishRequestFailed(ctx context.Context, event *RequestEvent) error
	Close()
}

// NoopPublisher discards all events. Used when messaging is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishRequestCompleted(context.Context, *RequestEvent) error { return nil }
func (NoopPublisher) PublishRequestFailed(context.Context, *RequestEvent) error    { return nil }
func (NoopPublisher) Close()                                                       {}
