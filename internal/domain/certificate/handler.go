package certificate

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcert/medcert/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts authenticated certificate reads on api and the
// public verification lookup on public.
func (h *Handler) RegisterRoutes(api, public *echo.Group) {
	api.GET("/certificates/:id", h.GetCertificate, auth.RequireRole("doctor", "support", "patient"))
	api.GET("/certificates/:id/download", h.Download, auth.RequireRole("doctor", "support", "patient"))
	api.GET("/intakes/:id/certificates", h.ListByRequest, auth.RequireRole("doctor", "support"))

	public.GET("/verify/:code", h.Verify)
}

func (h *Handler) GetCertificate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cert, err := h.svc.GetCertificate(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "certificate not found")
	}
	return c.JSON(http.StatusOK, cert)
}

func (h *Handler) Download(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	url, err := h.svc.DownloadURL(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "certificate not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) ListByRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListByRequest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// Verify is the public, unauthenticated lookup. It never returns PHI.
func (h *Handler) Verify(c echo.Context) error {
	code := c.Param("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing code")
	}
	res, err := h.svc.Verify(c.Request().Context(), code)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown verification code")
	}
	return c.JSON(http.StatusOK, res)
}
