// Package mail delivers outbound communications as printed letters
// through a letter API. Postal mail is the channel of last resort.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/config"
	"github.com/openrecords/relay/internal/foia"
)

// Sender is the postal mail channel backend.
type Sender struct {
	cfg    config.MailConfig
	client *http.Client
	log    *slog.Logger
}

// NewSender creates the mail channel sender.
func NewSender(cfg config.MailConfig, log *slog.Logger) *Sender {
	return &Sender{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With(slog.String("component", "mail_sender")),
	}
}

// Channel identifies this sender to the engine.
func (s *Sender) Channel() comms.Channel {
	return comms.ChannelMail
}

type letterRequest struct {
	Address   string `json:"address"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Reference string `json:"reference"`
}

type letterResponse struct {
	LetterID string `json:"letter_id"`
	Tracking string `json:"tracking,omitempty"`
}

// Send submits the letter for printing and mailing.
func (s *Sender) Send(ctx context.Context, req foia.Request, contact foia.ChannelContact, msg comms.Outbound) error {
	payload, err := json.Marshal(letterRequest{
		Address:   contact.Address,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Reference: req.ID,
	})
	if err != nil {
		return fmt.Errorf("encode letter request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.LetterAPIURL+"/v1/letters", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build letter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("letter api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("letter api returned %d: %s", resp.StatusCode, body)
	}
	var out letterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode letter response: %w", err)
	}
	s.log.Info("letter queued",
		slog.String("request_id", req.ID),
		slog.String("letter_id", out.LetterID))
	return nil
}
