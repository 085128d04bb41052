package attestation

import (
	"net/http"
	"time"

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("", auth.RequireRole("doctor"))
	doctor.POST("/intakes/:id/attestations", h.SubmitAttestation)
	doctor.GET("/intakes/:id/attestations", h.ListAttestations)
	doctor.POST("/intakes/:id/date-changes", h.RequestDateChange)
	doctor.GET("/intakes/:id/date-changes", h.ListDateChanges)

	api.PUT("/date-changes/:id", h.DecideDateChange, auth.RequireRole("admin"))
}

func requestID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) SubmitAttestation(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var body struct {
		DeclType  string    `json:"decl_type"`
		TypedName string    `json:"typed_name"`
		Text      string    `json:"text"`
		SignedAt  time.Time `json:"signed_at"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	rec := &Record{
		RequestID:     id,
		DeclType:      body.DeclType,
		TypedName:     body.TypedName,
		Text:          body.Text,
		SignedAt:      body.SignedAt,
		OriginAddress: c.RealIP(),
	}
	if err := h.svc.SubmitAttestation(c.Request().Context(), rec, actor.Name); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":    "attestation invalid",
				"problems": ve.Problems,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListAttestations(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAttestations(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RequestDateChange(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var body struct {
		OriginalDate  time.Time `json:"original_date"`
		RequestedDate time.Time `json:"requested_date"`
		Reason        string    `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	req := &DateChangeRequest{
		RequestID:     id,
		OriginalDate:  body.OriginalDate,
		RequestedDate: body.RequestedDate,
		Reason:        body.Reason,
		RequestedBy:   actor.ID,
	}
	if err := h.svc.RequestDateChange(c.Request().Context(), req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListDateChanges(c echo.Context) error {
	id, err := requestID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListDateChanges(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DecideDateChange(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Approve bool `json:"approve"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.DecideDateChange(c.Request().Context(), id, body.Approve, actor.ID, actor.Role()); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
