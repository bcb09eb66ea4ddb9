package user

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/notify"
	"github.com/medcore/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the auth endpoints. public is mounted before the JWT
// middleware; api is the authenticated group.
func (h *Handler) RegisterRoutes(public *echo.Group, api *echo.Group) {
	public.POST("/auth/request-otp", h.RequestOTP)
	public.POST("/auth/verify-otp", h.VerifyOTP)
	public.POST("/auth/refresh", h.Refresh)
	public.POST("/auth/devices/login", h.DeviceLogin)

	api.GET("/auth/me", h.Me)
	api.GET("/auth/doctors", h.Doctors)
	api.POST("/auth/devices", h.RegisterDevice)
	api.GET("/auth/devices", h.ListDevices)
	api.DELETE("/auth/devices/:id", h.RevokeDevice)

	adminGroup := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/users", h.CreateUser)
	adminGroup.GET("/users", h.ListUsers)
	adminGroup.POST("/users/:id/deactivate", h.DeactivateUser)
}

type requestOTPRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Channel    string `json:"channel"`
}

func (h *Handler) RequestOTP(c echo.Context) error {
	var req requestOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	channel := notify.Channel(req.Channel)
	if req.Channel != "" && !notify.ValidChannel(channel) {
		return echo.NewHTTPError(http.StatusBadRequest, "channel must be sms, whatsapp or email")
	}

	challenge, err := h.svc.RequestOTP(c.Request().Context(), req.Identifier, channel)
	if err != nil {
		if err == ErrInvalidIdentifier {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not send code")
	}
	return c.JSON(http.StatusOK, challenge)
}

type verifyOTPRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Code       string `json:"code" validate:"required"`
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	session, err := h.svc.VerifyOTP(c.Request().Context(), req.Identifier, req.Code)
	if err != nil {
		switch err {
		case ErrInvalidIdentifier:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case ErrInvalidCode, ErrTooManyAttempts:
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		case ErrUserDisabled:
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "verification failed")
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) Refresh(c echo.Context) error {
	var req struct {
		Refresh string `json:"refresh" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	session, err := h.svc.Refresh(c.Request().Context(), req.Refresh)
	if err != nil {
		switch err {
		case ErrInvalidRefresh:
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		case ErrUserDisabled:
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "refresh failed")
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	usr, err := h.svc.Get(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, usr)
}

func (h *Handler) Doctors(c echo.Context) error {
	doctors, err := h.svc.Doctors(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewCounted(doctors, len(doctors)))
}

func (h *Handler) RegisterDevice(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req struct {
		Label string `json:"label"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reg, err := h.svc.RegisterDevice(ctx, userID, req.Label)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, reg)
}

func (h *Handler) DeviceLogin(c echo.Context) error {
	var req struct {
		DeviceID     string `json:"device_id" validate:"required"`
		DeviceSecret string `json:"device_secret" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidDevice.Error())
	}

	session, err := h.svc.DeviceLogin(c.Request().Context(), deviceID, req.DeviceSecret)
	if err != nil {
		switch err {
		case ErrInvalidDevice:
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		case ErrUserDisabled:
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "device login failed")
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) ListDevices(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	devices, err := h.svc.ListDevices(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewCounted(devices, len(devices)))
}

func (h *Handler) RevokeDevice(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.RevokeDevice(ctx, userID, deviceID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "device not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var u User
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateUser(c.Request().Context(), &u); err != nil {
		if err == ErrDuplicateUser {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeactivateUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		if err == ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
