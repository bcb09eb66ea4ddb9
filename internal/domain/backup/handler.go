package backup

import (
	"net/http"

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
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/backups", h.Create)
	admin.GET("/backups", h.List)
	admin.GET("/backups/:id", h.Get)
	admin.POST("/backups/:id/cancel", h.Cancel)
	admin.POST("/backups/:id/restore", h.Restore)
	admin.GET("/restores", h.ListRestores)
	admin.GET("/restores/:id", h.GetRestore)
}

type createBackupRequest struct {
	Kind string `json:"kind" validate:"required"`
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	var req createBackupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if !validKinds[req.Kind] {
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be FULL or DATA")
	}

	b, err := h.svc.Request(c.Request().Context(), req.Kind, actor)
	if err != nil {
		return mapBackupError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapBackupError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// List returns {count, results}, the shape the admin dashboard consumes.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	backups, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return mapBackupError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewCounted(backups, total))
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return mapBackupError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Restore(c echo.Context) error {
	actor, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	run, err := h.svc.Restore(c.Request().Context(), id, actor)
	if err != nil {
		return mapBackupError(err)
	}
	return c.JSON(http.StatusAccepted, run)
}

func (h *Handler) ListRestores(c echo.Context) error {
	pg := pagination.FromContext(c)
	runs, total, err := h.svc.ListRestores(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return mapBackupError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewCounted(runs, total))
}

func (h *Handler) GetRestore(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	run, err := h.svc.GetRestore(c.Request().Context(), id)
	if err != nil {
		return mapBackupError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func mapBackupError(err error) error {
	switch err {
	case ErrBackupNotFound, ErrRestoreNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case ErrInvalidKind:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case ErrBackupState:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
