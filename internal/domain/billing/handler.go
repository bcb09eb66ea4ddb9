package billing

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	staff := []string{
		auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse,
		auth.RoleLabTech, auth.RoleRadiologyTech, auth.RolePharmacist, auth.RoleIVFSpecialist,
	}

	read := api.Group("", auth.RequireRole(staff...))
	read.GET("/visits/:id/billing", h.VisitBilling)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/visits/:id/invoices", h.CreateInvoice)
	desk.POST("/invoices/:id/payments", h.RecordPayment)
	desk.GET("/billing/pending", h.PendingQueue)
	desk.POST("/visits/:id/insurance/claim", h.ClaimInsurance)
	desk.POST("/visits/:id/insurance/settle", h.SettleInsurance)

	desk.GET("/billing/reconciliations", h.ListReconciliations)
	desk.GET("/billing/reconciliations/today", h.Today)
	desk.POST("/billing/reconciliations", h.CreateReconciliation)
	desk.POST("/billing/reconciliations/:id/refresh", h.Refresh)
	desk.POST("/billing/reconciliations/:id/finalize", h.Finalize)
	desk.GET("/billing/reconciliations/:id/export", h.Export)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/invoices/:id/waive", h.WaiveInvoice)
}

type createInvoiceRequest struct {
	Category    string `json:"category" validate:"required"`
	Description string `json:"description"`
	Amount      string `json:"amount" validate:"required"`
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be a decimal string")
	}
	if amount.IsNegative() {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must not be negative")
	}
	if !validCategories[req.Category] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category: "+req.Category)
	}

	inv := &Invoice{
		VisitID:     visitID,
		Category:    req.Category,
		Description: req.Description,
		Amount:      amount,
		CreatedBy:   actor,
	}
	if err := h.svc.CreateInvoice(c.Request().Context(), inv); err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) VisitBilling(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	vb, err := h.svc.VisitBilling(c.Request().Context(), visitID)
	if err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusOK, vb)
}

type recordPaymentRequest struct {
	Amount    string  `json:"amount" validate:"required"`
	Method    string  `json:"method" validate:"required"`
	Reference *string `json:"reference"`
	Notes     *string `json:"notes"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req recordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be a decimal string")
	}
	if !amount.IsPositive() {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}
	if !validMethods[req.Method] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown payment method: "+req.Method)
	}

	p := &Payment{
		InvoiceID:  invoiceID,
		Amount:     amount,
		Method:     req.Method,
		Reference:  req.Reference,
		Notes:      req.Notes,
		ReceivedBy: actor,
	}
	recorded, err := h.svc.RecordPayment(c.Request().Context(), p)
	if err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusCreated, recorded)
}

func (h *Handler) WaiveInvoice(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	inv, err := h.svc.WaiveInvoice(c.Request().Context(), invoiceID, actor)
	if err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) PendingQueue(c echo.Context) error {
	pending, err := h.svc.PendingQueue(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewCounted(pending, len(pending)))
}

func (h *Handler) ClaimInsurance(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkInsuranceClaimed(c.Request().Context(), visitID); err != nil {
		return mapBillingError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SettleInsurance(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkInsuranceSettled(c.Request().Context(), visitID); err != nil {
		return mapBillingError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Today(c echo.Context) error {
	rec, err := h.svc.Today(c.Request().Context())
	if err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListReconciliations(c echo.Context) error {
	pg := pagination.FromContext(c)
	recs, total, err := h.svc.ListReconciliations(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset))
}

type createReconciliationRequest struct {
	Date              string  `json:"date"`
	CloseActiveVisits bool    `json:"close_active_visits"`
	StaffName         *string `json:"staff_name"`
}

func (h *Handler) CreateReconciliation(c echo.Context) error {
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req createReconciliationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var date time.Time
	if req.Date != "" {
		date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
	}

	rec, err := h.svc.CreateReconciliation(c.Request().Context(), date, req.CloseActiveVisits, req.StaffName, actor)
	if err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Refresh(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Refresh(c.Request().Context(), id)
	if err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type finalizeRequest struct {
	Confirmed   bool    `json:"confirmed"`
	CountedCash string  `json:"counted_cash" validate:"required"`
	StaffName   *string `json:"staff_name"`
	Notes       *string `json:"notes"`
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req finalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	counted, err := decimal.NewFromString(req.CountedCash)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "counted_cash must be a decimal string")
	}

	rec, err := h.svc.Finalize(c.Request().Context(), id, FinalizeRequest{
		Confirmed:   req.Confirmed,
		CountedCash: counted,
		StaffName:   req.StaffName,
		Notes:       req.Notes,
	}, actor)
	if err != nil {
		return mapBillingError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Export streams the reconciliation as csv (default) or xlsx. Works on
// drafts and finalized records alike.
func (h *Handler) Export(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetReconciliation(c.Request().Context(), id)
	if err != nil {
		return mapBillingError(err)
	}

	rows := ExportRows(rec)
	filename := fmt.Sprintf("reconciliation-%s", rec.Date.Format("2006-01-02"))

	switch c.QueryParam("format") {
	case "", "csv":
		return export.CSV(c, filename+".csv", rows)
	case "xlsx":
		body := make([][]interface{}, 0, len(rows)-1)
		for _, row := range rows[1:] {
			body = append(body, []interface{}{row[0], row[1]})
		}
		return export.XLSX(c, filename+".xlsx", "Reconciliation", rows[0], body)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be csv or xlsx")
	}
}

// mapBillingError translates billing sentinels. Overpayment and a missing
// confirmation are client mistakes (400); lifecycle conflicts are 409.
func mapBillingError(err error) error {
	switch err {
	case ErrInvoiceNotFound, ErrVisitNotFound, ErrReconciliationNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrOverpayment, ErrConfirmationRequired:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case ErrVisitClosed, ErrInvoiceSettled, ErrInsufficientFunds,
		ErrDuplicateReconciliation, ErrReconciliationFinalized, ErrClaimState:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
