package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Admin permission flags.
const (
	PermManageUsers        = "can_manage_users"
	PermManageStaff        = "can_manage_staff"
	PermManagePatients     = "can_manage_patients"
	PermManageAppointments = "can_manage_appointments"
	PermManagePathology    = "can_manage_pathology"
	PermManageRadiology    = "can_manage_radiology"
	PermSendNotifications  = "can_send_notifications"
	PermViewReports        = "can_view_reports"
	PermManagePermissions  = "can_manage_permissions"
)

// PermissionChecker resolves admin permission flags.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, role, perm string) (bool, error)
}

// RequirePermission only lets through callers the checker grants perm to.
func RequirePermission(checker PermissionChecker, perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			role := RoleFromContext(ctx)
			if role == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			ok, err := checker.HasPermission(ctx, UserIDFromContext(ctx), role, perm)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "permission lookup failed")
			}
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "missing permission: "+perm)
			}
			return next(c)
		}
	}
}

// GateAdmins applies RequirePermission to admin callers only. Other roles are
// expected to be filtered by RequireRole.
func GateAdmins(checker PermissionChecker, perm string) echo.MiddlewareFunc {
	require := RequirePermission(checker, perm)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		gated := require(next)
		return func(c echo.Context) error {
			if RoleFromContext(c.Request().Context()) == RoleAdmin {
				return gated(c)
			}
			return next(c)
		}
	}
}
