// Package fax delivers outbound communications through an HTTP fax
// gateway. The gateway confirms delivery asynchronously via callback.
package fax

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

// Sender is the fax channel backend.
type Sender struct {
	cfg    config.FaxConfig
	client *http.Client
	log    *slog.Logger
}

// NewSender creates the fax channel sender.
func NewSender(cfg config.FaxConfig, log *slog.Logger) *Sender {
	return &Sender{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With(slog.String("component", "fax_sender")),
	}
}

// Channel identifies this sender to the engine.
func (s *Sender) Channel() comms.Channel {
	return comms.ChannelFax
}

type sendRequest struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	CallbackURL string `json:"callback_url,omitempty"`
	Reference   string `json:"reference"`
}

type sendResponse struct {
	FaxID string `json:"fax_id"`
}

// Send queues the message with the gateway. Reference carries the request
// ID so the delivery callback can be attached to the right communication.
func (s *Sender) Send(ctx context.Context, req foia.Request, contact foia.ChannelContact, msg comms.Outbound) error {
	payload, err := json.Marshal(sendRequest{
		To:          contact.Address,
		Subject:     msg.Subject,
		Body:        msg.Body,
		CallbackURL: s.cfg.CallbackURL,
		Reference:   req.ID,
	})
	if err != nil {
		return fmt.Errorf("encode fax request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.GatewayURL+"/v1/faxes", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build fax request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("fax gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("fax gateway returned %d: %s", resp.StatusCode, body)
	}
	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode fax response: %w", err)
	}
	s.log.Info("fax queued",
		slog.String("request_id", req.ID),
		slog.String("fax_id", out.FaxID))
	return nil
}
