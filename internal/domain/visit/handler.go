package visit

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
	read.GET("/visits", h.List)
	read.GET("/visits/:id", h.Get)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/visits", h.Create)
	desk.POST("/visits/:id/close", h.Close)
	desk.POST("/visits/:id/assign-doctor", h.AssignDoctor)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/visits/:id/reopen", h.Reopen)

	clinical := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clinical.GET("/visits/:id/consultation", h.GetConsultation)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/visits/:id/consultation", h.CreateConsultation)
	doctor.PUT("/visits/:id/consultation", h.UpdateConsultation)
}

type createVisitRequest struct {
	PatientID string  `json:"patient_id" validate:"required"`
	Reason    *string `json:"reason"`
	DoctorID  *string `json:"doctor_id"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createVisitRequest
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
	openedBy, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	v := &Visit{PatientID: patientID, Reason: req.Reason, OpenedBy: openedBy}
	if req.DoctorID != nil {
		doctorID, err := uuid.Parse(*req.DoctorID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		v.DoctorID = &doctorID
	}

	if err := h.svc.Create(c.Request().Context(), v); err != nil {
		return mapVisitError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapVisitError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	f := ListFilter{Status: c.QueryParam("status")}
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

	visits, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) Close(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	closedBy, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	v, err := h.svc.Close(c.Request().Context(), id, closedBy)
	if err != nil {
		return mapVisitError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Reopen(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Reopen(c.Request().Context(), id)
	if err != nil {
		return mapVisitError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		DoctorID string `json:"doctor_id" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	if err := h.svc.AssignDoctor(c.Request().Context(), id, doctorID); err != nil {
		return mapVisitError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetConsultation(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cons, err := h.svc.GetConsultation(c.Request().Context(), visitID)
	if err != nil {
		return mapVisitError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

type consultationRequest struct {
	Complaint   string `json:"complaint"`
	History     string `json:"history"`
	Examination string `json:"examination"`
	Diagnosis   string `json:"diagnosis"`
	Plan        string `json:"treatment_plan"`
	Notes       string `json:"notes"`
	Version     int    `json:"version"`
}

func (h *Handler) CreateConsultation(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req consultationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cons := &Consultation{
		VisitID:     visitID,
		Complaint:   req.Complaint,
		History:     req.History,
		Examination: req.Examination,
		Diagnosis:   req.Diagnosis,
		Plan:        req.Plan,
		Notes:       req.Notes,
		CreatedBy:   userID,
		UpdatedBy:   userID,
	}
	if err := h.svc.CreateConsultation(c.Request().Context(), cons); err != nil {
		return mapVisitError(err)
	}
	return c.JSON(http.StatusCreated, cons)
}

func (h *Handler) UpdateConsultation(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	userID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req consultationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Version <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "version is required")
	}

	cons := &Consultation{
		VisitID:     visitID,
		Complaint:   req.Complaint,
		History:     req.History,
		Examination: req.Examination,
		Diagnosis:   req.Diagnosis,
		Plan:        req.Plan,
		Notes:       req.Notes,
		UpdatedBy:   userID,
	}
	saved, err := h.svc.UpdateConsultation(c.Request().Context(), cons, req.Version)
	if err != nil {
		return mapVisitError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

// mapVisitError translates domain sentinels into transport errors. Payment
// gates refuse with 403, lifecycle and concurrency conflicts with 409, and
// absent records with 404.
func mapVisitError(err error) error {
	switch err {
	case ErrNotFound, ErrConsultationNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrRegistrationUnpaid, ErrConsultationUnpaid:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case ErrVisitClosed, ErrVisitNotClosed, ErrOpenVisitExists,
		ErrConsultationExists, ErrStaleVersion, ErrOutstandingBalance:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
