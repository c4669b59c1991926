package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/config"
	"github.com/openrecords/relay/internal/foia"
)

// Sender is the email channel backend. Every attempt leaves an outbox
// audit row regardless of outcome.
type Sender struct {
	provider Provider
	outbox   *Outbox
	cfg      config.EmailConfig
	log      *slog.Logger
}

// NewSender creates the email channel sender.
func NewSender(provider Provider, outbox *Outbox, cfg config.EmailConfig, log *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		outbox:   outbox,
		cfg:      cfg,
		log:      log.With(slog.String("component", "email_sender")),
	}
}

// Channel identifies this sender to the engine.
func (s *Sender) Channel() comms.Channel {
	return comms.ChannelEmail
}

// Send delivers the message to the request's email contact. The from
// address carries the request's reply tag so the agency's answer
// correlates back without a tracking ID.
func (s *Sender) Send(ctx context.Context, req foia.Request, contact foia.ChannelContact, msg comms.Outbound) error {
	outboxID, err := s.outbox.Create(ctx, contact.Address, msg.Subject, s.provider.Name())
	if err != nil {
		s.log.Error("create outbox row", slog.String("request_id", req.ID), slog.Any("error", err))
	}

	out := OutboundEmail{
		From:      s.cfg.FromAddress,
		ReplyTo:   s.replyAddress(req),
		To:        []string{contact.Address},
		Subject:   msg.Subject,
		Body:      msg.Body,
		Reference: req.ID,
	}
	for _, att := range msg.Attachments {
		out.Attachments = append(out.Attachments, OutboundAttachment{
			Name:    att.Name,
			Mime:    att.Mime,
			Content: att.Content,
		})
	}

	messageID, err := s.provider.Send(ctx, out)
	if err != nil {
		if outboxID != "" {
			if mErr := s.outbox.MarkFailed(ctx, outboxID, err); mErr != nil {
				s.log.Error("mark outbox failed", slog.Any("error", mErr))
			}
		}
		return fmt.Errorf("email send to %s: %w", contact.Address, err)
	}
	if outboxID != "" {
		if mErr := s.outbox.MarkSent(ctx, outboxID, ""); mErr != nil {
			s.log.Error("mark outbox sent", slog.Any("error", mErr))
		}
	}
	s.log.Info("email sent",
		slog.String("request_id", req.ID),
		slog.String("message_id", messageID))
	return nil
}

// replyAddress builds the plus-addressed reply target for a request.
func (s *Sender) replyAddress(req foia.Request) string {
	if req.ReplyTag == "" || s.cfg.ReplyDomain == "" {
		return s.cfg.FromAddress
	}
	return fmt.Sprintf("requests+%s@%s", req.ReplyTag, s.cfg.ReplyDomain)
}
