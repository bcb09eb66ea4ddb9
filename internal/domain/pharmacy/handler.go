package pharmacy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	read.GET("/pharmacy/drugs", h.ListDrugs)
	read.GET("/pharmacy/drugs/:id", h.GetDrug)
	read.GET("/pharmacy/inventory", h.ListInventory)
	read.GET("/pharmacy/inventory/low-stock", h.LowStock)
	read.GET("/pharmacy/inventory/:id", h.GetInventory)
	read.GET("/pharmacy/inventory/:id/movements", h.Movements)

	pharm := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharm.POST("/pharmacy/drugs", h.CreateDrug)
	pharm.PUT("/pharmacy/drugs/:id", h.UpdateDrug)
	pharm.POST("/pharmacy/inventory", h.AddInventory)
	pharm.POST("/pharmacy/inventory/:id/restock", h.Restock)
	pharm.POST("/pharmacy/inventory/:id/adjust", h.Adjust)
	pharm.POST("/pharmacy/inventory/:id/dispense", h.Dispense)
}

type drugRequest struct {
	Code         string `json:"code" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Form         string `json:"form"`
	Strength     string `json:"strength"`
	UnitPrice    string `json:"unit_price" validate:"required"`
	ReorderLevel int    `json:"reorder_level" validate:"gte=0"`
}

func (h *Handler) CreateDrug(c echo.Context) error {
	var req drugRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil || price.IsNegative() {
		return echo.NewHTTPError(http.StatusBadRequest, "unit_price must be a non-negative decimal string")
	}

	d := &Drug{
		Code:         req.Code,
		Name:         req.Name,
		Form:         req.Form,
		Strength:     req.Strength,
		UnitPrice:    price,
		ReorderLevel: req.ReorderLevel,
	}
	if err := h.svc.CreateDrug(c.Request().Context(), d); err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDrug(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if err != nil {
		return mapPharmacyError(err)
	}

	var req drugRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil || price.IsNegative() {
		return echo.NewHTTPError(http.StatusBadRequest, "unit_price must be a non-negative decimal string")
	}

	d.Name = req.Name
	d.Form = req.Form
	d.Strength = req.Strength
	d.UnitPrice = price
	d.ReorderLevel = req.ReorderLevel
	if err := h.svc.UpdateDrug(c.Request().Context(), d); err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDrugs(c echo.Context) error {
	pg := pagination.FromContext(c)
	drugs, total, err := h.svc.ListDrugs(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(drugs, total, pg.Limit, pg.Offset))
}

type addInventoryRequest struct {
	DrugID      string `json:"drug_id" validate:"required"`
	BatchNumber string `json:"batch_number" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	ExpiryDate  string `json:"expiry_date"`
}

func (h *Handler) AddInventory(c echo.Context) error {
	var req addInventoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	drugID, err := uuid.Parse(req.DrugID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid drug_id")
	}

	item := &InventoryItem{
		DrugID:      drugID,
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "expiry_date must be YYYY-MM-DD")
		}
		item.ExpiryDate = &expiry
	}

	created, err := h.svc.AddInventory(c.Request().Context(), item)
	if err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetInventory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.svc.GetInventory(c.Request().Context(), id)
	if err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) ListInventory(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInventory(c.Request().Context(), false, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) LowStock(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInventory(c.Request().Context(), true, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Movements(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	movements, err := h.svc.Movements(c.Request().Context(), id, limit)
	if err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewCounted(movements, len(movements)))
}

type restockRequest struct {
	Quantity  int    `json:"quantity" validate:"required"`
	Reference string `json:"reference"`
	Notes     string `json:"notes"`
}

func (h *Handler) Restock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req restockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Quantity <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "quantity must be positive")
	}

	item, err := h.svc.Restock(c.Request().Context(), id, req.Quantity, req.Reference, req.Notes, actor)
	if err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusOK, item)
}

type adjustRequest struct {
	Quantity int    `json:"quantity" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
	Notes    string `json:"notes"`
}

func (h *Handler) Adjust(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req adjustRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Quantity == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "quantity must not be zero")
	}

	item, err := h.svc.Adjust(c.Request().Context(), id, req.Quantity, req.Reason, req.Notes, actor)
	if err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusOK, item)
}

type dispenseRequest struct {
	Quantity int    `json:"quantity" validate:"required"`
	VisitID  string `json:"visit_id" validate:"required"`
}

func (h *Handler) Dispense(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req dispenseRequest
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
	if req.Quantity <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "quantity must be positive")
	}

	item, err := h.svc.Dispense(c.Request().Context(), id, req.Quantity, visitID, actor)
	if err != nil {
		return mapPharmacyError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func mapPharmacyError(err error) error {
	switch err {
	case ErrDrugNotFound, ErrInventoryNotFound, ErrVisitNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrInvalidQuantity:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case ErrDuplicateCode, ErrInsufficientStock, ErrVisitClosed:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
