package issuance

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcert/medcert/internal/platform/auth"
	"github.com/medcert/medcert/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the issuance transitions. Approve and decline are
// the rate-limited, issuance-triggering actions; exceeding the limit is a
// plain 429 with no workflow state touched.
func (h *Handler) RegisterRoutes(api *echo.Group, rl middleware.RateLimitConfig) {
	limited := api.Group("", auth.RequireRole("doctor"), middleware.IssuanceRateLimit(rl))
	limited.POST("/intakes/:id/approve", h.Approve)
	limited.POST("/intakes/:id/decline", h.Decline)

	api.PUT("/intakes/:id/draft", h.SaveDraft, auth.RequireRole("doctor"))
	api.POST("/intakes/:id/regenerate", h.Regenerate, auth.RequireRole("admin"))
}

func actorFrom(c echo.Context) Actor {
	a := auth.ActorFromContext(c.Request().Context())
	return Actor{ID: a.ID, Name: a.Name, Role: a.Role()}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) SaveDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Subtype       string    `json:"subtype"`
		StartDate     time.Time `json:"start_date"`
		EndDate       time.Time `json:"end_date"`
		ClinicalNotes string    `json:"clinical_notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	actor := actorFrom(c)
	d := &Draft{
		RequestID:     id,
		DocType:       DocTypeCertificate,
		Subtype:       body.Subtype,
		StartDate:     body.StartDate,
		EndDate:       body.EndDate,
		ClinicalNotes: body.ClinicalNotes,
		CreatedBy:     actor.ID,
	}
	if err := h.svc.SaveDraft(c.Request().Context(), d); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cert, err := h.svc.Approve(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		if iv, ok := AsInvariantViolation(err); ok {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":     iv.Error(),
				"invariant": iv.Code,
			})
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, cert)
}

func (h *Handler) Decline(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.svc.Decline(c.Request().Context(), id, actorFrom(c), body.Reason); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Regenerate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cert, err := h.svc.RequestRegeneration(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		if iv, ok := AsInvariantViolation(err); ok {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":     iv.Error(),
				"invariant": iv.Code,
			})
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if cert == nil {
		// Render failed; the retry sweep owns it from here.
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusCreated, cert)
}
