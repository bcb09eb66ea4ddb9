package ivf

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/export"
	"github.com/medcore/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleIVFSpecialist, auth.RoleDoctor, auth.RoleNurse))
	read.GET("/ivf/cycles", h.List)
	read.GET("/ivf/cycles/:id", h.Get)
	read.GET("/ivf/statistics", h.Statistics)
	read.GET("/ivf/statistics/export", h.Export)

	spec := api.Group("", auth.RequireRole(auth.RoleIVFSpecialist))
	spec.POST("/ivf/cycles", h.Create)
	spec.PUT("/ivf/cycles/:id", h.Update)
	spec.POST("/ivf/cycles/:id/advance", h.Advance)
	spec.POST("/ivf/cycles/:id/cancel", h.Cancel)
	spec.POST("/ivf/cycles/:id/outcome", h.RecordOutcome)
}

type createCycleRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
	Protocol  string `json:"protocol" validate:"required"`
	StartDate string `json:"start_date"`
	Notes     string `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req createCycleRequest
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
	if !validProtocols[req.Protocol] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown protocol: "+req.Protocol)
	}

	in := CreateInput{
		PatientID: patientID,
		Protocol:  req.Protocol,
		Notes:     req.Notes,
		CreatedBy: actor,
	}
	if req.StartDate != "" {
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		}
		in.StartDate = start
	}

	cycle, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusCreated, cycle)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cycle, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusOK, cycle)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Status:   c.QueryParam("status"),
		Protocol: c.QueryParam("protocol"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}

	cycles, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cycles, total, pg.Limit, pg.Offset))
}

type updateCycleRequest struct {
	Protocol           string `json:"protocol" validate:"required"`
	OocytesRetrieved   int    `json:"oocytes_retrieved" validate:"gte=0"`
	OocytesFertilized  int    `json:"oocytes_fertilized" validate:"gte=0"`
	EmbryosTransferred int    `json:"embryos_transferred" validate:"gte=0"`
	Notes              string `json:"notes"`
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateCycleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if !validProtocols[req.Protocol] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown protocol: "+req.Protocol)
	}

	cycle, err := h.svc.Update(c.Request().Context(), id, UpdateInput{
		Protocol:           req.Protocol,
		OocytesRetrieved:   req.OocytesRetrieved,
		OocytesFertilized:  req.OocytesFertilized,
		EmbryosTransferred: req.EmbryosTransferred,
		Notes:              req.Notes,
	})
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusOK, cycle)
}

func (h *Handler) Advance(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cycle, err := h.svc.Advance(c.Request().Context(), id)
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusOK, cycle)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cycle, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusOK, cycle)
}

type outcomeRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

func (h *Handler) RecordOutcome(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req outcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if !validOutcomes[req.Outcome] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown outcome: "+req.Outcome)
	}

	cycle, err := h.svc.RecordOutcome(c.Request().Context(), id, req.Outcome)
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusOK, cycle)
}

func (h *Handler) Statistics(c echo.Context) error {
	stats, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return mapIVFError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Export streams the statistics as csv (default) or xlsx.
func (h *Handler) Export(c echo.Context) error {
	stats, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return mapIVFError(err)
	}

	rows := ExportRows(stats)
	switch c.QueryParam("format") {
	case "", "csv":
		return export.CSV(c, "ivf-statistics.csv", rows)
	case "xlsx":
		body := make([][]interface{}, 0, len(rows)-1)
		for _, row := range rows[1:] {
			body = append(body, []interface{}{row[0], row[1]})
		}
		return export.XLSX(c, "ivf-statistics.xlsx", "IVF Statistics", rows[0], body)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be csv or xlsx")
	}
}

func mapIVFError(err error) error {
	switch err {
	case ErrCycleNotFound, ErrPatientNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrInvalidProtocol, ErrInvalidOutcome:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case ErrCycleTerminal, ErrOutcomePending:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
