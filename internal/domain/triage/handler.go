package triage

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/triage/internal/platform/auth"
	"github.com/ehr/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: svc.now}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	r := g.Group("", auth.RequireRole(auth.RoleNurse, auth.RolePhysician))
	r.GET("/intakes", h.ListIntakes)
	r.GET("/intakes/:id", h.GetIntake)
	r.GET("/queue", h.GetQueue)
	r.GET("/queue/summary", h.GetSummary)
	r.GET("/queue/export", h.ExportQueue)
	r.GET("/queue/:id/wait", h.GetWait)
	r.GET("/patients/:id", h.GetPatient)
	r.GET("/patients/:id/decisions", h.ListDecisions)
	r.GET("/alerts", h.ListAlerts)
	r.GET("/alerts/:id", h.GetAlert)

	r.POST("/intakes", h.StartIntake)
	r.POST("/intakes/:id/accept", h.AcceptRecommendation)
	r.POST("/intakes/:id/override", h.BeginOverride)
	r.DELETE("/intakes/:id/override", h.CancelOverride)
	r.POST("/intakes/:id/override/select", h.SelectOverride)
	r.POST("/intakes/:id/admit", h.Admit)
	r.DELETE("/intakes/:id", h.DiscardIntake)
	r.POST("/queue/pop", h.Pop)
	r.DELETE("/queue/:id", h.Remove)
	r.PUT("/queue/:id/priority", h.UpdatePriority)
	r.POST("/patients/:id/observations", h.RecordObservation)
	r.POST("/patients/:id/reassess", h.Reassess)
	r.POST("/alerts/:id/accept", h.AcceptAlert)
	r.POST("/alerts/:id/reject", h.RejectAlert)
}

// -- Intake --

func (h *Handler) StartIntake(c echo.Context) error {
	var req IntakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.StartIntake(c.Request().Context(), req, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (h *Handler) ListIntakes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ListIntakes())
}

func (h *Handler) GetIntake(c echo.Context) error {
	view, err := h.svc.GetIntake(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) AcceptRecommendation(c echo.Context) error {
	return h.intakeStep(c, h.svc.AcceptRecommendation)
}

func (h *Handler) BeginOverride(c echo.Context) error {
	return h.intakeStep(c, h.svc.BeginOverride)
}

func (h *Handler) CancelOverride(c echo.Context) error {
	return h.intakeStep(c, h.svc.CancelOverride)
}

type levelRequest struct {
	Level Level `json:"triage_level"`
}

func (h *Handler) SelectOverride(c echo.Context) error {
	var req levelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view, err := h.svc.SelectOverride(c.Param("id"), req.Level)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Admit(c echo.Context) error {
	rec, err := h.svc.Admit(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) DiscardIntake(c echo.Context) error {
	if err := h.svc.DiscardIntake(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) intakeStep(c echo.Context, step func(string) (*IntakeView, error)) error {
	view, err := step(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// -- Queue --

func (h *Handler) GetQueue(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Snapshot())
}

func (h *Handler) GetSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Summary())
}

func (h *Handler) GetWait(c echo.Context) error {
	est, err := h.svc.EstimateWait(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, est)
}

func (h *Handler) Pop(c echo.Context) error {
	rec, err := h.svc.Pop(c.Request().Context(), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Remove is idempotent: removing a patient that is not queued answers 204.
func (h *Handler) Remove(c echo.Context) error {
	rec, ok := h.svc.Remove(c.Request().Context(), c.Param("id"), actor(c))
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdatePriority(c echo.Context) error {
	var req levelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.UpdatePriority(c.Request().Context(), c.Param("id"), req.Level, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ExportQueue(c echo.Context) error {
	now := h.now()
	data, err := ExportWorkbook(h.svc.Snapshot(), h.svc.ListAlerts(AlertFilter{}), now)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	filename := fmt.Sprintf("triage-queue-%s.xlsx", now.Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// -- Patients --

func (h *Handler) GetPatient(c echo.Context) error {
	rec, err := h.svc.GetPatient(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListDecisions(c echo.Context) error {
	items, err := h.svc.Decisions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RecordObservation(c echo.Context) error {
	var obs Observation
	if err := c.Bind(&obs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.RecordObservation(c.Request().Context(), c.Param("id"), obs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, rec)
}

type reassessResponse struct {
	Change string `json:"change"`
	Alert  *Alert `json:"alert,omitempty"`
}

func (h *Handler) Reassess(c echo.Context) error {
	alert, change, err := h.svc.Reassess(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reassessResponse{Change: change.String(), Alert: alert})
}

// -- Alerts --

func (h *Handler) ListAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AlertFilter{
		Status:    AlertStatus(c.QueryParam("status")),
		PatientID: c.QueryParam("patient_id"),
	}
	switch f.Status {
	case "", AlertPending, AlertAccepted, AlertRejected:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown alert status %q", f.Status))
	}
	items := h.svc.ListAlerts(f)
	start, end := pg.Window(len(items))
	page := append([]*Alert{}, items[start:end]...)
	return c.JSON(http.StatusOK, pagination.NewResponse(page, len(items), pg.Limit, pg.Offset))
}

func (h *Handler) GetAlert(c echo.Context) error {
	a, err := h.svc.GetAlert(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AcceptAlert(c echo.Context) error {
	a, err := h.svc.AcceptAlert(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RejectAlert(c echo.Context) error {
	a, err := h.svc.RejectAlert(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func actor(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return uid
	}
	return "anonymous"
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrEmptyQueue):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateID), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUpstreamScoring):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
