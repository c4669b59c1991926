// Package comms is the routing core: it resolves the delivery channel for
// each outbound message, owns the append-only communication log, and
// serializes all work per request.
package comms

import "time"

// Channel identifies a delivery mechanism for a communication.
type Channel string

// String returns the channel as a plain string.
func (c Channel) String() string {
	return string(c)
}

const (
	ChannelPortal Channel = "portal"
	ChannelEmail  Channel = "email"
	ChannelFax    Channel = "fax"
	ChannelMail   Channel = "mail"
)

// channelPriority is the resolution order. Portal wins when usable, postal
// mail is the last resort.
var channelPriority = []Channel{ChannelPortal, ChannelEmail, ChannelFax, ChannelMail}

// Direction marks whether a communication was sent or received.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Communication statuses.
const (
	StatusSent     = "sent"
	StatusAccepted = "accepted"
)

// Communication is one message on a request's permanent log. Rows are
// append-only: corrections are recorded as new communications.
type Communication struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Direction Direction `json:"direction"`
	Channel   Channel   `json:"channel"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery event kinds attached to communications as sub-records.
const (
	EventDelivered    = "delivered"
	EventOpened       = "opened"
	EventBounced      = "bounced"
	EventFaxConfirmed = "fax-confirmed"
	EventMailTracking = "mail-tracking"
	EventPortalUpdate = "portal-update"
)

// DeliveryEvent is a confirmation attached to a communication without
// mutating the parent row.
type DeliveryEvent struct {
	ID              string    `json:"id"`
	CommunicationID string    `json:"communication_id"`
	Kind            string    `json:"kind"`
	Detail          string    `json:"detail"`
	CreatedAt       time.Time `json:"created_at"`
}

// Attachment is a document included with an outbound message.
type Attachment struct {
	Name    string
	Mime    string
	Content []byte
}

// Outbound is a message the engine must deliver on the resolved channel.
type Outbound struct {
	RequestID   string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Inbound is a raw message received on some channel, before classification.
type Inbound struct {
	Channel    Channel
	From       string
	Recipient  string
	Subject    string
	Body       string
	ReceivedAt time.Time
}
