package orders

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/lock"
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
		auth.RoleLabTech, auth.RoleRadiologyTech,
	}

	read := api.Group("", auth.RequireRole(staff...))
	read.GET("/orders", h.Worklist)
	read.GET("/orders/:id", h.Get)
	read.GET("/orders/:id/lock", h.LockStatus)

	doc := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doc.POST("/orders", h.Create)
	doc.POST("/orders/:id/cancel", h.Cancel)

	tech := api.Group("", auth.RequireRole(auth.RoleLabTech, auth.RoleRadiologyTech))
	tech.POST("/orders/:id/lock", h.AcquireLock)
	tech.DELETE("/orders/:id/lock", h.ReleaseLock)
	tech.POST("/orders/:id/result", h.PostResult)

	verify := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleLabTech, auth.RoleRadiologyTech))
	verify.POST("/orders/:id/verify", h.Verify)
}

type createOrderRequest struct {
	VisitID  string `json:"visit_id" validate:"required"`
	Modality string `json:"modality" validate:"required"`
	TestCode string `json:"test_code" validate:"required"`
	TestName string `json:"test_name" validate:"required"`
	Price    string `json:"price"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	visitID, err := uuid.Parse(req.VisitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit_id")
	}
	if !validModalities[req.Modality] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown modality: "+req.Modality)
	}
	price := decimal.Zero
	if req.Price != "" {
		price, err = decimal.NewFromString(req.Price)
		if err != nil || price.IsNegative() {
			return echo.NewHTTPError(http.StatusBadRequest, "price must be a non-negative decimal string")
		}
	}

	o, err := h.svc.Create(c.Request().Context(), CreateInput{
		VisitID:   visitID,
		Modality:  req.Modality,
		TestCode:  req.TestCode,
		TestName:  req.TestName,
		Price:     price,
		OrderedBy: actor,
	})
	if err != nil {
		return mapOrderError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapOrderError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Worklist(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Modality: c.QueryParam("modality"),
		Status:   c.QueryParam("status"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	if raw := c.QueryParam("visit_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid visit_id")
		}
		f.VisitID = id
	}

	list, total, err := h.svc.Worklist(c.Request().Context(), f)
	if err != nil {
		return mapOrderError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg.Limit, pg.Offset))
}

func (h *Handler) AcquireLock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	holder := lock.Holder{
		ID:   auth.UserIDFromContext(ctx),
		Name: auth.UserNameFromContext(ctx),
	}
	if holder.ID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	info, err := h.svc.AcquireLock(ctx, id, holder)
	if err != nil {
		return mapOrderError(err)
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) LockStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	info, err := h.svc.LockStatus(c.Request().Context(), id)
	if err != nil {
		return mapOrderError(err)
	}
	if info == nil {
		return c.JSON(http.StatusOK, map[string]any{"locked": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"locked": true, "lock": info})
}

func (h *Handler) ReleaseLock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	requester := auth.UserIDFromContext(ctx)
	if requester == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	// Admins may break a colleague's stale lock.
	if err := h.svc.ReleaseLock(ctx, id, requester, auth.HasRole(ctx, auth.RoleAdmin)); err != nil {
		return mapOrderError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type resultRequest struct {
	Value      string `json:"value" validate:"required"`
	ReportText string `json:"report_text"`
	Flags      string `json:"flags"`
}

func (h *Handler) PostResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req resultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	o, err := h.svc.PostResult(c.Request().Context(), id, ResultInput{
		Value:      req.Value,
		ReportText: req.ReportText,
		Flags:      req.Flags,
		PostedBy:   actor,
	})
	if err != nil {
		return mapOrderError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	o, err := h.svc.Verify(c.Request().Context(), id, actor)
	if err != nil {
		return mapOrderError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return mapOrderError(err)
	}
	return c.JSON(http.StatusOK, o)
}

// mapOrderError translates order sentinels. Lock violations and unpaid
// gates are 403 so the frontend can name who holds the resource or which
// fee is due.
func mapOrderError(err error) error {
	var held *lock.HeldError
	if errors.As(err, &held) {
		return echo.NewHTTPError(http.StatusForbidden, map[string]any{
			"message": held.Error(),
			"lock":    held.Info,
		})
	}
	switch err {
	case ErrOrderNotFound, ErrVisitNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrInvalidModality:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case ErrRegistrationUnpaid, ErrLockRequired, lock.ErrNotHolder:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case ErrVisitClosed, ErrOrderState:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
