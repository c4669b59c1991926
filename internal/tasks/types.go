// Package tasks creates and stores human-reviewable escalation tasks.
// The sink is the terminal node of every automation failure path.
package tasks

import "time"

// Escalation categories. The set is open; these cover the engine's
// built-in failure paths.
const (
	CategoryUnknownFormat      = "unknown-message-format"
	CategoryLoginFailure       = "login-failure"
	CategoryUploadFailure      = "upload-failure"
	CategoryTrackingMismatch   = "tracking-mismatch"
	CategoryMalformedField     = "malformed-field"
	CategoryNoChannel          = "no-channel-available"
	CategoryPortalManual       = "portal-manual"
	CategoryFirstContact       = "first-contact"
	CategoryCancelled          = "cancelled"
	CategoryTimeout            = "timeout"
	CategoryDeliveryFailure    = "delivery-failure"
	CategoryCredentialRotation = "credential-rotation"
	CategoryStoreFailure       = "store-failure"
)

// Escalation is the input handed to the sink when automation cannot proceed.
// RawSubject and RawBody preserve the triggering message verbatim so a human
// can complete the work manually.
type Escalation struct {
	RequestID       string
	CommunicationID string
	Category        string
	Reason          string
	RawSubject      string
	RawBody         string
}

// Task is a persisted escalation awaiting human review.
type Task struct {
	ID              string     `json:"id"`
	RequestID       string     `json:"request_id,omitempty"`
	CommunicationID string     `json:"communication_id,omitempty"`
	Category        string     `json:"category"`
	Reason          string     `json:"reason"`
	RawSubject      string     `json:"raw_subject"`
	RawBody         string     `json:"raw_body"`
	Resolved        bool       `json:"resolved"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}
