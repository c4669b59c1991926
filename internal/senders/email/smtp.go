package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	mail "github.com/wneessen/go-mail"

	"github.com/openrecords/relay/internal/config"
)

// SMTPProvider sends through a plain SMTP account.
type SMTPProvider struct {
	cfg config.EmailConfig
	log *slog.Logger
}

// NewSMTPProvider creates the SMTP backend.
func NewSMTPProvider(cfg config.EmailConfig, log *slog.Logger) *SMTPProvider {
	return &SMTPProvider{
		cfg: cfg,
		log: log.With(slog.String("provider", "smtp")),
	}
}

func (p *SMTPProvider) Name() string {
	return "smtp"
}

// Send delivers one message and returns its message ID.
func (p *SMTPProvider) Send(ctx context.Context, msg OutboundEmail) (string, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return "", fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return "", fmt.Errorf("set to: %w", err)
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return "", fmt.Errorf("set reply-to: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	for _, att := range msg.Attachments {
		m.AttachReader(att.Name, bytes.NewReader(att.Content))
	}
	m.SetMessageID()

	opts := []mail.Option{
		mail.WithPort(p.cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(p.cfg.Username),
		mail.WithPassword(p.cfg.Password),
	}
	switch p.cfg.SMTPSecurity {
	case "tls":
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case "starttls":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(p.cfg.SMTPHost, opts...)
	if err != nil {
		return "", fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return m.GetMessageID(), nil
}
