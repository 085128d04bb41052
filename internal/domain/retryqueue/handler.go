package retryqueue

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medcert/medcert/internal/platform/auth"
	"github.com/medcert/medcert/pkg/pagination"
)

// Handler exposes the operator escalation view over permanently failed
// tickets.
type Handler struct {
	sweeper *Sweeper
}

func NewHandler(sweeper *Sweeper) *Handler {
	return &Handler{sweeper: sweeper}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/retry-tickets/failed", h.ListFailed, auth.RequireRole("admin"))
}

func (h *Handler) ListFailed(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.sweeper.ListPermanentlyFailed(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
