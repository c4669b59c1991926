package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openrecords/relay/internal/portal"
)

type PortalHandler struct {
	registry *portal.Registry
	sweeper  *portal.Sweeper
	logger   *slog.Logger
}

func NewPortalHandler(registry *portal.Registry, sweeper *portal.Sweeper, log *slog.Logger) *PortalHandler {
	return &PortalHandler{
		registry: registry,
		sweeper:  sweeper,
		logger:   log.With(slog.String("handler", "portals")),
	}
}

func (h *PortalHandler) Register(e *echo.Echo) {
	e.GET("/portals", h.ListPortals)
	e.POST("/portals/sweep", h.TriggerSweep)
}

// ListPortals godoc
// @Summary List portal families
// @Description Returns the registered portal adapter descriptors
// @Tags portals
// @Success 200 {array} portal.Descriptor
// @Router /portals [get]
func (h *PortalHandler) ListPortals(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.Descriptors())
}

// TriggerSweep godoc
// @Summary Re-probe errored portals
// @Description Runs the portal health sweep immediately
// @Tags portals
// @Success 202 {object} map[string]string
// @Router /portals/sweep [post]
func (h *PortalHandler) TriggerSweep(c echo.Context) error {
	go h.sweeper.Sweep()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "sweeping"})
}
