package email

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/openrecords/relay/internal/config"
)

// MailgunProvider sends through the Mailgun API.
type MailgunProvider struct {
	client *mg.Client
	cfg    config.EmailConfig
	log    *slog.Logger
}

// NewMailgunProvider creates the Mailgun backend.
func NewMailgunProvider(cfg config.EmailConfig, log *slog.Logger) *MailgunProvider {
	return &MailgunProvider{
		client: mg.NewMailgun(cfg.MailgunAPIKey),
		cfg:    cfg,
		log:    log.With(slog.String("provider", "mailgun")),
	}
}

func (p *MailgunProvider) Name() string {
	return "mailgun"
}

// Send delivers one message and returns the Mailgun message ID.
func (p *MailgunProvider) Send(ctx context.Context, msg OutboundEmail) (string, error) {
	m := mg.NewMessage(p.cfg.MailgunDomain, msg.From, msg.Subject, msg.Body, msg.To...)
	if msg.ReplyTo != "" {
		m.AddHeader("Reply-To", msg.ReplyTo)
	}
	if msg.Reference != "" {
		m.AddVariable("request_id", msg.Reference)
	}
	for _, att := range msg.Attachments {
		m.AddBufferAttachment(att.Name, att.Content)
	}
	resp, err := p.client.Send(ctx, m)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}
	return resp.ID, nil
}

// WebhookEvent is a parsed Mailgun delivery or inbound webhook payload.
type WebhookEvent struct {
	Event     string
	MessageID string
	Recipient string
	From      string
	Subject   string
	BodyText  string
	Reason    string
	RequestID string
}

// VerifyWebhook checks the Mailgun HMAC signature over timestamp+token.
func VerifyWebhook(signingKey, timestamp, token, signature string) error {
	if signingKey == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("webhook signature verification failed")
	}
	return nil
}

// ParseWebhook verifies and parses a Mailgun form-encoded webhook request.
func ParseWebhook(r *http.Request, signingKey string) (WebhookEvent, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		if err2 := r.ParseForm(); err2 != nil {
			return WebhookEvent{}, fmt.Errorf("parse form: %w", err2)
		}
	}
	err := VerifyWebhook(signingKey,
		r.FormValue("timestamp"), r.FormValue("token"), r.FormValue("signature"))
	if err != nil {
		return WebhookEvent{}, err
	}
	return WebhookEvent{
		Event:     r.FormValue("event"),
		MessageID: r.FormValue("Message-Id"),
		Recipient: r.FormValue("recipient"),
		From:      r.FormValue("sender"),
		Subject:   r.FormValue("subject"),
		BodyText:  r.FormValue("body-plain"),
		Reason:    r.FormValue("reason"),
		RequestID: r.FormValue("request_id"),
	}, nil
}

// InboundFromWebhook converts an inbound-route webhook into an InboundEmail.
func InboundFromWebhook(ev WebhookEvent) InboundEmail {
	to := strings.Split(ev.Recipient, ",")
	for i := range to {
		to[i] = strings.TrimSpace(to[i])
	}
	return InboundEmail{
		MessageID:  ev.MessageID,
		From:       ev.From,
		To:         to,
		Subject:    ev.Subject,
		BodyText:   ev.BodyText,
		ReceivedAt: time.Now(),
	}
}
