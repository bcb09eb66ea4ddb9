package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that should bypass authentication. These are
// infrastructure endpoints (health checks, metrics) and the login endpoints
// that must be reachable without credentials.
var publicPaths = map[string]bool{
	"/health":                    true,
	"/health/db":                 true,
	"/metrics":                   true,
	"/api/v1/auth/request-otp":   true,
	"/api/v1/auth/verify-otp":    true,
	"/api/v1/auth/refresh":       true,
	"/api/v1/auth/devices/login": true,
	"/api/v1/wallet/verify":      true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()] || publicPaths[c.Request().URL.Path]
}

// IsPublicPath reports whether the given path is a public endpoint that
// should bypass auth middleware.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
