package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openrecords/relay/internal/tasks"
)

type EscalationHandler struct {
	store  *tasks.Store
	logger *slog.Logger
}

func NewEscalationHandler(store *tasks.Store, log *slog.Logger) *EscalationHandler {
	return &EscalationHandler{
		store:  store,
		logger: log.With(slog.String("handler", "escalations")),
	}
}

func (h *EscalationHandler) Register(e *echo.Echo) {
	group := e.Group("/escalations")
	group.GET("", h.ListOpen)
	group.GET("/:id", h.Get)
	group.POST("/:id/resolve", h.Resolve)
}

// ListOpen godoc
// @Summary List open escalations
// @Description Returns unresolved escalation tasks oldest first
// @Tags escalations
// @Success 200 {array} tasks.Task
// @Failure 500 {object} ErrorResponse
// @Router /escalations [get]
func (h *EscalationHandler) ListOpen(c echo.Context) error {
	open, err := h.store.ListOpen(c.Request().Context(), 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, open)
}

// Get godoc
// @Summary Get escalation
// @Tags escalations
// @Param id path string true "Task ID"
// @Success 200 {object} tasks.Task
// @Failure 404 {object} ErrorResponse
// @Router /escalations/{id} [get]
func (h *EscalationHandler) Get(c echo.Context) error {
	task, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, task)
}

// Resolve godoc
// @Summary Resolve escalation
// @Description Marks a task as handled by a human reviewer
// @Tags escalations
// @Param id path string true "Task ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /escalations/{id}/resolve [post]
func (h *EscalationHandler) Resolve(c echo.Context) error {
	err := h.store.Resolve(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found or already resolved")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}
