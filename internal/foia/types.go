// Package foia stores public-records requests, the agencies they target,
// and the per-request contact channel state the routing engine reads.
package foia

import "time"

// Request status lifecycle values.
const (
	StatusSubmitted = "submitted"
	StatusProcessed = "processed"
	StatusFix       = "fix"
	StatusPayment   = "payment"
	StatusRejected  = "rejected"
	StatusNoDocs    = "no_docs"
	StatusPartial   = "partial"
	StatusDone      = "done"
	StatusAbandoned = "abandoned"
)

// Channel contact status values.
const (
	ContactGood     = "good"
	ContactError    = "error"
	ContactDisabled = "disabled"
)

// Agency is a government body that receives requests.
type Agency struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Jurisdiction string    `json:"jurisdiction"`
	PortalType   string    `json:"portal_type"`
	PortalURL    string    `json:"portal_url"`
	Email        string    `json:"email"`
	Fax          string    `json:"fax"`
	Address      string    `json:"address"`
	CreatedAt    time.Time `json:"created_at"`
}

// Request is a single public-records request tracked by the engine.
type Request struct {
	ID             string     `json:"id"`
	AgencyID       string     `json:"agency_id"`
	Title          string     `json:"title"`
	Requester      string     `json:"requester"`
	Status         string     `json:"status"`
	TrackingID     string     `json:"tracking_id"`
	PortalUsername string     `json:"portal_username"`
	PortalPassword string     `json:"-"`
	ReplyTag       string     `json:"reply_tag"`
	DateDue        *time.Time `json:"date_due,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ChannelContact is the per-request state of one delivery channel.
// Address holds the channel-specific destination (email address, fax
// number, mailing address, or portal URL).
type ChannelContact struct {
	RequestID string    `json:"request_id"`
	Channel   string    `json:"channel"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
