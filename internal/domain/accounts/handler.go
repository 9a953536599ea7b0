package accounts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/validation"
	"github.com/hms/hms/pkg/pagination"
)

// PublicRoutes are served without a bearer token.
var PublicRoutes = []string{
	"/auth/register",
	"/auth/login",
	"/auth/password-reset",
	"/auth/password-reset/confirm",
}

type Handler struct {
	svc   *Service
	perms auth.PermissionChecker
}

func NewHandler(svc *Service, perms auth.PermissionChecker) *Handler {
	return &Handler{svc: svc, perms: perms}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/password-reset", h.RequestPasswordReset)
	api.POST("/auth/password-reset/confirm", h.ResetPassword)

	api.GET("/users/me", h.Me)
	api.PUT("/users/me", h.UpdateMe)
	api.POST("/users/me/password", h.ChangePassword)

	api.GET("/users/:id/staff-profile", h.GetStaffProfile)
	api.PUT("/users/:id/staff-profile", h.UpsertStaffProfile)
	api.GET("/users/:id/patient-profile", h.GetPatientProfile)
	api.PUT("/users/:id/patient-profile", h.UpsertPatientProfile)

	admin := api.Group("",
		auth.RequireRole(auth.RoleAdmin),
		auth.RequirePermission(h.perms, auth.PermManageUsers))
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.GET("/users/:id", h.GetUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.POST("/users/:id/activate", h.Activate)
	admin.POST("/users/:id/deactivate", h.Deactivate)
}

func currentUser(c echo.Context) (uuid.UUID, string, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusUnauthorized, "invalid user")
	}
	return id, auth.RoleFromContext(ctx), nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid), errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, ErrInvalidToken), errors.Is(err, ErrCaptcha):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInactive), errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrLocked):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// allowed reports whether the caller is the subject user, or an admin holding
// perm.
func (h *Handler) allowed(c echo.Context, subject uuid.UUID, perm string) (bool, error) {
	uid, role, err := currentUser(c)
	if err != nil {
		return false, err
	}
	if uid == subject || role == auth.RoleSuperAdmin {
		return true, nil
	}
	if role != auth.RoleAdmin {
		return false, nil
	}
	ok, err := h.perms.HasPermission(c.Request().Context(), uid.String(), role, perm)
	if err != nil {
		return false, echo.NewHTTPError(http.StatusInternalServerError, "permission lookup failed")
	}
	return ok, nil
}

// -- Authentication --

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	in.RemoteIP = c.RealIP()
	u, err := h.svc.Register(c.Request().Context(), in, auth.RoleFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	in.RemoteIP = c.RealIP()
	res, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) RequestPasswordReset(c echo.Context) error {
	var req resetRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		c.Logger().Error(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "if the address is registered, a reset link has been sent",
	})
}

type resetConfirm struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetConfirm
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Self service --

func (h *Handler) Me(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return err
	}
	var in UpdateUserInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	u, err := h.svc.UpdateMe(c.Request().Context(), uid, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	uid, _, err := currentUser(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), uid, req.OldPassword, req.NewPassword); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Admin --

func (h *Handler) ListUsers(c echo.Context) error {
	f := UserFilter{
		Role:   c.QueryParam("role"),
		Search: c.QueryParam("search"),
	}
	if v := c.QueryParam("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid is_active")
		}
		f.Active = &active
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListUsers(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in RegisterInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), in, auth.RoleFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in UpdateUserInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	u, err := h.svc.UpdateUser(c.Request().Context(), id, in, auth.RoleFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	uid, role, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUser(c.Request().Context(), id, uid, role); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Activate(c echo.Context) error   { return h.setActive(c, true) }
func (h *Handler) Deactivate(c echo.Context) error { return h.setActive(c, false) }

func (h *Handler) setActive(c echo.Context, active bool) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.SetActive(c.Request().Context(), id, active, auth.RoleFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// -- Profiles --

// GetStaffProfile is visible to every authenticated user; patients look up
// their doctors.
func (h *Handler) GetStaffProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetStaffProfile(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpsertStaffProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ok, err := h.allowed(c, id, auth.PermManageStaff)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "cannot edit this staff profile")
	}
	var p StaffProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.UserID = id
	if err := h.svc.UpsertStaffProfile(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// GetPatientProfile is visible to the patient and to clinical staff.
func (h *Handler) GetPatientProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	uid, role, err := currentUser(c)
	if err != nil {
		return err
	}
	if uid != id && !auth.IsStaffRole(role) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot view this patient profile")
	}
	p, err := h.svc.GetPatientProfile(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpsertPatientProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ok, err := h.allowed(c, id, auth.PermManagePatients)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "cannot edit this patient profile")
	}
	var p PatientProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.UserID = id
	if err := h.svc.UpsertPatientProfile(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}
