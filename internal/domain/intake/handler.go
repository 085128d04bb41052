package intake

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcert/medcert/internal/platform/auth"
	"github.com/medcert/medcert/pkg/pagination"
)

type Handler struct {
	svc   *Service
	locks *LockManager
}

func NewHandler(svc *Service, locks *LockManager) *Handler {
	return &Handler{svc: svc, locks: locks}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/intakes", h.CreateIntake, auth.RequireRole("patient"))
	api.GET("/intakes", h.ListIntakes, auth.RequireRole("doctor", "support"))
	api.GET("/intakes/:id", h.GetIntake, auth.RequireRole("doctor", "support"))

	doctor := api.Group("", auth.RequireRole("doctor"))
	doctor.POST("/intakes/:id/review-lock", h.AcquireLock)
	doctor.PUT("/intakes/:id/review-lock", h.ExtendLock)
	doctor.DELETE("/intakes/:id/review-lock", h.ReleaseLock)
	doctor.POST("/intakes/:id/start-review", h.StartReview)
	doctor.POST("/intakes/:id/request-info", h.RequestInfo)
	doctor.POST("/intakes/:id/resume-review", h.ResumeReview)

	api.POST("/intakes/:id/mark-paid", h.MarkPaid, auth.RequireRole("support", "admin"))
	api.POST("/intakes/:id/anonymize", h.Anonymize, auth.RequireRole("admin"))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateIntake(c echo.Context) error {
	var in Intake
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.svc.CreateIntake(c.Request().Context(), &in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, in)
}

func (h *Handler) GetIntake(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	in, err := h.svc.GetIntake(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "intake not found")
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) ListIntakes(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := Status(c.QueryParam("status"))
	if status == "" {
		status = StatusInReview
	}
	items, total, err := h.svc.ListByStatus(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AcquireLock(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	result := h.locks.Acquire(c.Request().Context(), id, actor.ID, actor.Name)
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ExtendLock(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	extended := h.locks.Extend(c.Request().Context(), id, actor.ID)
	return c.JSON(http.StatusOK, map[string]bool{"extended": extended})
}

func (h *Handler) ReleaseLock(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	h.locks.Release(c.Request().Context(), id, actor.ID)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) StartReview(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.StartReview(c.Request().Context(), id, actor.ID, actor.Name); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RequestInfo(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.RequestInfo(c.Request().Context(), id, actor.ID, actor.Role(), body.Message); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ResumeReview(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.ResumeReview(c.Request().Context(), id, actor.ID, actor.Role()); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkPaid(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Anonymize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.Anonymize(c.Request().Context(), id, actor.ID, actor.Role()); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
