package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
)

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRoleKey, role)
}

func setUser(c echo.Context, userID, role string) {
	c.Set("user_id", userID)
	c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), userID, role)))
}

// JWTMiddleware authenticates bearer tokens. Requests for which skip returns
// true pass through unauthenticated.
func JWTMiddleware(issuer *TokenIssuer, skip func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := issuer.Parse(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			setUser(c, claims.Subject, claims.Role)
			return next(c)
		}
	}
}

// DevAuthMiddleware treats requests without a token as the dev super admin and
// validates tokens when one is sent.
func DevAuthMiddleware(issuer *TokenIssuer, devUserID string, skip func(echo.Context) bool) echo.MiddlewareFunc {
	strict := JWTMiddleware(issuer, skip)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		checked := strict(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				setUser(c, devUserID, RoleSuperAdmin)
				return next(c)
			}
			return checked(c)
		}
	}
}

// PublicPaths returns a skipper matching exact request paths.
func PublicPaths(paths ...string) func(echo.Context) bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(c echo.Context) bool {
		return set[c.Request().URL.Path]
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}
