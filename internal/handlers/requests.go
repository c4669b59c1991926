package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
)

type RequestHandler struct {
	store  *foia.Store
	comms  *comms.Log
	engine *comms.Engine
	logger *slog.Logger
}

func NewRequestHandler(store *foia.Store, log *comms.Log, engine *comms.Engine, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		store:  store,
		comms:  log,
		engine: engine,
		logger: logger.With(slog.String("handler", "requests")),
	}
}

func (h *RequestHandler) Register(e *echo.Echo) {
	e.POST("/agencies", h.CreateAgency)
	e.GET("/agencies", h.ListAgencies)

	group := e.Group("/requests")
	group.POST("", h.CreateRequest)
	group.GET("", h.ListRequests)
	group.GET("/:id", h.GetRequest)
	group.GET("/:id/communications", h.ListCommunications)
	group.POST("/:id/send", h.SendMessage)
	group.PUT("/:id/channels/:channel", h.UpsertChannel)
}

type CreateAgencyRequest struct {
	Name         string `json:"name" validate:"required"`
	Jurisdiction string `json:"jurisdiction"`
	PortalType   string `json:"portal_type"`
	PortalURL    string `json:"portal_url" validate:"omitempty,url"`
	Email        string `json:"email" validate:"omitempty,email"`
	Fax          string `json:"fax"`
	Address      string `json:"address"`
}

// CreateAgency godoc
// @Summary Create agency
// @Description Registers an agency with its contact channels
// @Tags agencies
// @Param payload body CreateAgencyRequest true "Agency"
// @Success 200 {object} foia.Agency
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /agencies [post]
func (h *RequestHandler) CreateAgency(c echo.Context) error {
	var req CreateAgencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	agency, err := h.store.CreateAgency(c.Request().Context(), foia.Agency{
		Name:         req.Name,
		Jurisdiction: req.Jurisdiction,
		PortalType:   strings.ToLower(strings.TrimSpace(req.PortalType)),
		PortalURL:    req.PortalURL,
		Email:        req.Email,
		Fax:          req.Fax,
		Address:      req.Address,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, agency)
}

// ListAgencies godoc
// @Summary List agencies
// @Tags agencies
// @Success 200 {array} foia.Agency
// @Failure 500 {object} ErrorResponse
// @Router /agencies [get]
func (h *RequestHandler) ListAgencies(c echo.Context) error {
	agencies, err := h.store.ListAgencies(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, agencies)
}

type CreateRequestRequest struct {
	AgencyID       string `json:"agency_id" validate:"required,uuid"`
	Title          string `json:"title" validate:"required"`
	Requester      string `json:"requester"`
	PortalUsername string `json:"portal_username"`
	PortalPassword string `json:"portal_password"`
}

// CreateRequest godoc
// @Summary Create request
// @Description Creates a records request and seeds its channel contacts
// @Description from the agency's contact info
// @Tags requests
// @Param payload body CreateRequestRequest true "Request"
// @Success 200 {object} foia.Request
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /requests [post]
func (h *RequestHandler) CreateRequest(c echo.Context) error {
	var req CreateRequestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	agency, err := h.store.GetAgency(ctx, req.AgencyID)
	if err != nil {
		if errors.Is(err, foia.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "agency not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var contacts []foia.ChannelContact
	if agency.PortalURL != "" || agency.PortalType != "" {
		contacts = append(contacts, foia.ChannelContact{
			Channel: comms.ChannelPortal.String(),
			Address: agency.PortalURL,
		})
	}
	if agency.Email != "" {
		contacts = append(contacts, foia.ChannelContact{
			Channel: comms.ChannelEmail.String(),
			Address: agency.Email,
		})
	}
	if agency.Fax != "" {
		contacts = append(contacts, foia.ChannelContact{
			Channel: comms.ChannelFax.String(),
			Address: agency.Fax,
		})
	}
	if agency.Address != "" {
		contacts = append(contacts, foia.ChannelContact{
			Channel: comms.ChannelMail.String(),
			Address: agency.Address,
		})
	}

	created, err := h.store.CreateRequest(ctx, foia.Request{
		AgencyID:       agency.ID,
		Title:          req.Title,
		Requester:      req.Requester,
		PortalUsername: req.PortalUsername,
		PortalPassword: req.PortalPassword,
		ReplyTag:       newReplyTag(),
	}, contacts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, created)
}

// newReplyTag generates the short token used in plus-addressed reply
// addresses.
func newReplyTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ListRequests godoc
// @Summary List requests
// @Tags requests
// @Success 200 {array} foia.Request
// @Failure 500 {object} ErrorResponse
// @Router /requests [get]
func (h *RequestHandler) ListRequests(c echo.Context) error {
	requests, err := h.store.ListRequests(c.Request().Context(), 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, requests)
}

// GetRequest godoc
// @Summary Get request
// @Tags requests
// @Param id path string true "Request ID"
// @Success 200 {object} foia.Request
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /requests/{id} [get]
func (h *RequestHandler) GetRequest(c echo.Context) error {
	req, err := h.store.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, foia.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "request not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, req)
}

// ListCommunications godoc
// @Summary List request communications
// @Description Returns the request's append-only communication log
// @Tags requests
// @Param id path string true "Request ID"
// @Success 200 {array} comms.Communication
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /requests/{id}/communications [get]
func (h *RequestHandler) ListCommunications(c echo.Context) error {
	log, err := h.comms.ListByRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, log)
}

type SendMessageRequest struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// SendMessage godoc
// @Summary Send outbound message
// @Description Queues an outbound message on the request's resolved channel
// @Tags requests
// @Param id path string true "Request ID"
// @Param payload body SendMessageRequest true "Message"
// @Success 202 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /requests/{id}/send [post]
func (h *RequestHandler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	record, err := h.store.GetRequest(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, foia.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "request not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !h.engine.Send(record.ID, comms.Outbound{Subject: req.Subject, Body: req.Body}) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "engine is not accepting work")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

type UpsertChannelRequest struct {
	Address string `json:"address" validate:"required"`
	Status  string `json:"status" validate:"omitempty,oneof=good error disabled"`
}

// UpsertChannel godoc
// @Summary Set channel contact
// @Description Creates or updates one delivery channel contact for a request
// @Tags requests
// @Param id path string true "Request ID"
// @Param channel path string true "Channel (portal|email|fax|mail)"
// @Param payload body UpsertChannelRequest true "Contact"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /requests/{id}/channels/{channel} [put]
func (h *RequestHandler) UpsertChannel(c echo.Context) error {
	var req UpsertChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	channel := strings.ToLower(c.Param("channel"))
	switch comms.Channel(channel) {
	case comms.ChannelPortal, comms.ChannelEmail, comms.ChannelFax, comms.ChannelMail:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown channel: "+channel)
	}
	err := h.store.UpsertChannel(c.Request().Context(), foia.ChannelContact{
		RequestID: c.Param("id"),
		Channel:   channel,
		Address:   req.Address,
		Status:    req.Status,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
