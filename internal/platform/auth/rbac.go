package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role names as they appear in JWT claims and the users table.
const (
	RoleAdmin         = "admin"
	RoleReceptionist  = "receptionist"
	RoleDoctor        = "doctor"
	RoleNurse         = "nurse"
	RoleLabTech       = "lab_tech"
	RoleRadiologyTech = "radiology_tech"
	RolePharmacist    = "pharmacist"
	RoleIVFSpecialist = "ivf_specialist"
	RolePatient       = "patient"
)

// AllRoles lists every role the system recognizes, used when validating
// user records.
var AllRoles = []string{
	RoleAdmin, RoleReceptionist, RoleDoctor, RoleNurse,
	RoleLabTech, RoleRadiologyTech, RolePharmacist, RoleIVFSpecialist,
	RolePatient,
}

// ValidRole reports whether the given string names a known role.
func ValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
