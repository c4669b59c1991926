package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/config"
	"github.com/openrecords/relay/internal/foia"
	emailsender "github.com/openrecords/relay/internal/senders/email"
)

// WebhookHandler receives delivery confirmations and inbound mail from
// external gateways. These routes skip JWT auth; Mailgun requests are
// verified by HMAC signature instead.
type WebhookHandler struct {
	engine *comms.Engine
	comms  *comms.Log
	store  *foia.Store
	cfg    config.EmailConfig
	logger *slog.Logger
}

func NewWebhookHandler(engine *comms.Engine, log *comms.Log, store *foia.Store,
	cfg config.EmailConfig, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		engine: engine,
		comms:  log,
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("handler", "webhooks")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/mailgun", h.HandleMailgun)
	e.POST("/webhooks/fax", h.HandleFax)
}

// HandleMailgun godoc
// @Summary Mailgun webhook
// @Description Receives inbound mail and delivery events from Mailgun
// @Tags webhooks
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /webhooks/mailgun [post]
func (h *WebhookHandler) HandleMailgun(c echo.Context) error {
	event, err := emailsender.ParseWebhook(c.Request(), h.cfg.MailgunSigningKey)
	if err != nil {
		h.logger.Warn("rejected mailgun webhook", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	ctx := c.Request().Context()

	switch event.Event {
	case "":
		// Inbound route messages carry no event field.
		inbound := emailsender.InboundFromWebhook(event)
		recipient := ""
		if len(inbound.To) > 0 {
			recipient = inbound.To[0]
		}
		h.engine.HandleInbound(ctx, comms.Inbound{
			Channel:    comms.ChannelEmail,
			From:       inbound.From,
			Recipient:  recipient,
			Subject:    inbound.Subject,
			Body:       inbound.BodyText,
			ReceivedAt: inbound.ReceivedAt,
		})
	case "delivered", "opened", "bounced", "failed":
		h.attachEmailEvent(c, event)
	default:
		h.logger.Info("ignoring mailgun event", slog.String("event", event.Event))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) attachEmailEvent(c echo.Context, event emailsender.WebhookEvent) {
	if event.RequestID == "" {
		h.logger.Info("delivery event without request reference",
			slog.String("event", event.Event))
		return
	}
	ctx := c.Request().Context()
	comm, err := h.comms.LatestOutgoing(ctx, event.RequestID, comms.ChannelEmail)
	if err != nil {
		if !errors.Is(err, comms.ErrNotFound) {
			h.logger.Error("find communication for event", slog.Any("error", err))
		}
		return
	}
	kind := comms.EventDelivered
	switch event.Event {
	case "opened":
		kind = comms.EventOpened
	case "bounced", "failed":
		kind = comms.EventBounced
	}
	if _, err := h.comms.AttachEvent(ctx, comms.DeliveryEvent{
		CommunicationID: comm.ID,
		Kind:            kind,
		Detail:          event.Reason,
	}); err != nil {
		h.logger.Error("attach delivery event", slog.Any("error", err))
		return
	}
	if kind == comms.EventBounced {
		err := h.store.SetChannelStatus(ctx, event.RequestID,
			comms.ChannelEmail.String(), foia.ContactError)
		if err != nil && !errors.Is(err, foia.ErrNotFound) {
			h.logger.Error("mark email channel error", slog.Any("error", err))
		}
	}
}

type FaxCallback struct {
	Reference string `json:"reference" validate:"required,uuid"`
	Status    string `json:"status" validate:"required,oneof=delivered failed"`
	Detail    string `json:"detail"`
}

// HandleFax godoc
// @Summary Fax gateway callback
// @Description Receives asynchronous fax delivery confirmations
// @Tags webhooks
// @Param payload body FaxCallback true "Callback"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /webhooks/fax [post]
func (h *WebhookHandler) HandleFax(c echo.Context) error {
	var cb FaxCallback
	if err := c.Bind(&cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	comm, err := h.comms.LatestOutgoing(ctx, cb.Reference, comms.ChannelFax)
	if err != nil {
		if errors.Is(err, comms.ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "no fax communication for reference")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if cb.Status == "delivered" {
		if _, err := h.comms.AttachEvent(ctx, comms.DeliveryEvent{
			CommunicationID: comm.ID,
			Kind:            comms.EventFaxConfirmed,
			Detail:          cb.Detail,
		}); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	} else {
		err := h.store.SetChannelStatus(ctx, cb.Reference,
			comms.ChannelFax.String(), foia.ContactError)
		if err != nil && !errors.Is(err, foia.ErrNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
