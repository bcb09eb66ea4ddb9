package wallet

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// The provider redirects the customer here; auth is skipped for this
	// path in the middleware config.
	api.GET("/wallet/verify", h.Verify)

	desk := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	desk.POST("/wallet/topup", h.Topup)
	desk.GET("/patients/:id/wallet", h.Get)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/wallet/refund", h.Refund)
}

func (h *Handler) Get(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	view, err := h.svc.Get(c.Request().Context(), patientID)
	if err != nil {
		return mapWalletError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type topupRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
}

func (h *Handler) Topup(c echo.Context) error {
	var req topupRequest
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
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be a decimal string")
	}
	if !amount.IsPositive() {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}

	intent, err := h.svc.Topup(c.Request().Context(), patientID, amount)
	if err != nil {
		return mapWalletError(err)
	}
	return c.JSON(http.StatusCreated, intent)
}

func (h *Handler) Verify(c echo.Context) error {
	reference := c.QueryParam("reference")
	if reference == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reference is required")
	}
	txn, err := h.svc.Verify(c.Request().Context(), reference)
	if err != nil {
		return mapWalletError(err)
	}
	return c.JSON(http.StatusOK, txn)
}

type refundRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

func (h *Handler) Refund(c echo.Context) error {
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req refundRequest
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
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be a decimal string")
	}

	txn, err := h.svc.Refund(c.Request().Context(), patientID, amount, req.Reason, actor)
	if err != nil {
		return mapWalletError(err)
	}
	return c.JSON(http.StatusCreated, txn)
}

func mapWalletError(err error) error {
	switch err {
	case ErrWalletNotFound, ErrTransactionNotFound, ErrPatientNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrInsufficientFunds, ErrDuplicateReference:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
