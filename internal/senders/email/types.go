// Package email delivers outbound communications over SMTP or Mailgun and
// feeds inbound agency replies to the routing engine, with an outbox audit
// row for every send attempt.
package email

import (
	"context"
	"time"
)

// OutboundEmail is one message handed to a provider. Reference carries the
// request ID so asynchronous delivery events can be correlated back.
type OutboundEmail struct {
	From        string
	ReplyTo     string
	To          []string
	Subject     string
	Body        string
	Reference   string
	Attachments []OutboundAttachment
}

// OutboundAttachment is a document included with an outbound email.
type OutboundAttachment struct {
	Name    string
	Mime    string
	Content []byte
}

// InboundEmail is a raw message received from IMAP or a webhook.
type InboundEmail struct {
	MessageID  string
	From       string
	To         []string
	Subject    string
	BodyText   string
	ReceivedAt time.Time
}

// Provider sends email through one delivery backend.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg OutboundEmail) (string, error)
}

// InboundHandler receives each inbound email exactly once per connection.
type InboundHandler func(ctx context.Context, msg InboundEmail)
