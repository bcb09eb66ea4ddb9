package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// DevUserID is the synthetic admin identity assumed in development mode when
// no token is presented. A fixed UUID so handlers that parse the subject as
// one keep working.
const DevUserID = "00000000-0000-0000-0000-000000000001"

// JWTMiddleware authenticates requests using a bearer access token. Refresh
// tokens are rejected here; they are only accepted by the refresh endpoint.
// WebSocket clients cannot set headers, so an access_token query parameter
// is accepted as a fallback.
func JWTMiddleware(tm *TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			token, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims, err := tm.Verify(token, TokenTypeAccess)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(withClaims(c.Request().Context(), claims)))
			return next(c)
		}
	}
}

// DevAuthMiddleware authenticates like JWTMiddleware when a valid token is
// presented, and otherwise grants an admin session. Development only; the
// server refuses to start with it outside ENV=development.
func DevAuthMiddleware(tm *TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			if tm != nil {
				if token, err := bearerToken(c); err == nil {
					if claims, err := tm.Verify(token, TokenTypeAccess); err == nil {
						c.SetRequest(c.Request().WithContext(withClaims(c.Request().Context(), claims)))
						return next(c)
					}
				}
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, DevUserID)
			ctx = context.WithValue(ctx, UserRolesKey, []string{RoleAdmin})
			ctx = context.WithValue(ctx, UserNameKey, "Dev Admin")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if token := c.QueryParam("access_token"); token != "" {
			return token, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return parts[1], nil
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
	ctx = context.WithValue(ctx, UserNameKey, claims.FullName)
	return ctx
}
