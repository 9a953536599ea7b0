package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func callWithRole(role string, mw echo.MiddlewareFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if role != "" {
		req = req.WithContext(WithUser(context.Background(), "u1", role))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return rec, err
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := callWithRole(RoleDoctor, RequireRole(RoleDoctor, RoleNurse))
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := callWithRole(RolePatient, RequireRole(RoleDoctor, RoleNurse))
	if err == nil {
		t.Fatal("expected error for unauthorized role")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_SuperAdminBypass(t *testing.T) {
	_, err := callWithRole(RoleSuperAdmin, RequireRole(RoleDoctor))
	if err != nil {
		t.Errorf("super_admin should pass any role check, got %v", err)
	}
}

func TestRequireRole_AdminDoesNotBypass(t *testing.T) {
	_, err := callWithRole(RoleAdmin, RequireRole(RoleDoctor))
	if err == nil {
		t.Error("admin should not pass a doctor-only check")
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	_, err := callWithRole("", RequireRole(RoleDoctor))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestRoleHelpers(t *testing.T) {
	if !ValidRole(RolePharmacist) || ValidRole("janitor") {
		t.Error("ValidRole mismatch")
	}
	if !IsStaffRole(RoleNurse) || IsStaffRole(RolePatient) {
		t.Error("IsStaffRole mismatch")
	}
	if !IsAdminRole(RoleSuperAdmin) || IsAdminRole(RoleDoctor) {
		t.Error("IsAdminRole mismatch")
	}
}
