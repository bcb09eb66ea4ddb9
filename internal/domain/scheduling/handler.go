package scheduling

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := []string{
		auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse,
		auth.RoleLabTech, auth.RoleRadiologyTech, auth.RolePharmacist, auth.RoleIVFSpecialist,
	}

	read := api.Group("", auth.RequireRole(staff...))
	read.GET("/appointments", h.List)
	read.GET("/appointments/:id", h.Get)
	read.GET("/appointments/doctor/:id/day", h.DoctorDay)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RoleDoctor))
	desk.POST("/appointments", h.Create)
	desk.PATCH("/appointments/:id/status", h.UpdateStatus)
	desk.POST("/appointments/:id/confirm", h.action(StatusConfirmed))
	desk.POST("/appointments/:id/complete", h.action(StatusCompleted))
	desk.POST("/appointments/:id/cancel", h.action(StatusCancelled))
	desk.POST("/appointments/:id/no-show", h.action(StatusNoShow))
}

type createRequest struct {
	PatientID       string `json:"patient_id" validate:"required"`
	DoctorID        string `json:"doctor_id" validate:"required"`
	ScheduledAt     string `json:"scheduled_at" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "scheduled_at must be RFC 3339")
	}

	a, err := h.svc.Create(c.Request().Context(), CreateInput{
		PatientID:       patientID,
		DoctorID:        doctorID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
		Notes:           req.Notes,
		CreatedBy:       actor,
	})
	if err != nil {
		return mapSchedulingError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapSchedulingError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: c.QueryParam("status"), Limit: pg.Limit, Offset: pg.Offset}

	if raw := c.QueryParam("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = id
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}
	if raw := c.QueryParam("date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.From = day
		f.To = day.AddDate(0, 0, 1)
	}

	appts, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return mapSchedulingError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

func (h *Handler) DoctorDay(c echo.Context) error {
	doctorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	day := time.Now().UTC()
	if raw := c.QueryParam("date"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
	}

	appts, err := h.svc.DoctorDay(c.Request().Context(), doctorID, day)
	if err != nil {
		return mapSchedulingError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"doctor_id":    doctorID,
		"date":         day.Format("2006-01-02"),
		"count":        len(appts),
		"appointments": appts,
	})
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if !validStatuses[req.Status] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+req.Status)
	}

	a, err := h.svc.Transition(c.Request().Context(), id, req.Status)
	if err != nil {
		return mapSchedulingError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// action builds the per-status endpoints; they share the transition check
// with PATCH /:id/status.
func (h *Handler) action(to string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		a, err := h.svc.Transition(c.Request().Context(), id, to)
		if err != nil {
			return mapSchedulingError(err)
		}
		return c.JSON(http.StatusOK, a)
	}
}

func mapSchedulingError(err error) error {
	switch err {
	case ErrNotFound, ErrPatientNotFound, ErrDoctorNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrIllegalTransition, ErrOverlap:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
