package admin

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admins := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admins.GET("/me/permissions", h.MyPermissions)
	admins.GET("/dashboard/features", h.GetFeatures)
	admins.PUT("/dashboard/features", h.UpdateFeatures)
	admins.GET("/dashboard", h.Dashboard, auth.RequirePermission(h.svc, auth.PermViewReports))

	manage := admins.Group("", auth.RequirePermission(h.svc, auth.PermManagePermissions))
	manage.GET("/permissions", h.ListPermissionNames)
	manage.GET("/permissions/:userId", h.GetPermissions)
	manage.PUT("/permissions/:userId", h.UpdatePermissions)
	manage.GET("/feature-access/:userId", h.ListAccess)
	manage.PUT("/feature-access/:userId", h.SetAccess)
	manage.DELETE("/feature-access/:userId/:feature", h.RevokeAccess)
}

func currentUser(c echo.Context) (uuid.UUID, string, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusUnauthorized, "invalid user")
	}
	return id, auth.RoleFromContext(ctx), nil
}

func targetUser(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) MyPermissions(c echo.Context) error {
	uid, role, err := currentUser(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPermissions(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	if role == auth.RoleSuperAdmin {
		for _, name := range AllPermissions() {
			p.Set(name, true)
		}
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPermissionNames(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"permissions": AllPermissions()})
}

func (h *Handler) GetPermissions(c echo.Context) error {
	id, err := targetUser(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPermissions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// UpdatePermissions takes a partial object of flag name to value, e.g.
// {"can_manage_users": true}.
func (h *Handler) UpdatePermissions(c echo.Context) error {
	id, err := targetUser(c)
	if err != nil {
		return err
	}
	uid, role, err := currentUser(c)
	if err != nil {
		return err
	}
	changes := map[string]bool{}
	if err := c.Bind(&changes); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(changes) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no permission changes given")
	}
	p, err := h.svc.UpdatePermissions(c.Request().Context(), id, changes, uid, role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetFeatures(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetFeatures(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) UpdateFeatures(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return err
	}
	f, err := h.svc.GetFeatures(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	f.UserID = uid
	if err := h.svc.UpdateFeatures(c.Request().Context(), f); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Dashboard(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Dashboard(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListAccess(c echo.Context) error {
	id, err := targetUser(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAccess(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*FeatureAccess{}
	}
	return c.JSON(http.StatusOK, items)
}

type accessRequest struct {
	FeatureName string `json:"feature_name" validate:"required"`
	Enabled     *bool  `json:"enabled"`
}

func (h *Handler) SetAccess(c echo.Context) error {
	id, err := targetUser(c)
	if err != nil {
		return err
	}
	uid, _, err := currentUser(c)
	if err != nil {
		return err
	}
	var req accessRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	fa, err := h.svc.SetAccess(c.Request().Context(), id, req.FeatureName, enabled, uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, fa)
}

func (h *Handler) RevokeAccess(c echo.Context) error {
	id, err := targetUser(c)
	if err != nil {
		return err
	}
	if err := h.svc.RevokeAccess(c.Request().Context(), id, c.Param("feature")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
