package session

import (
	"strings"

	"courier/internal/domain/models"
)

// protectedSegment marks screens shared by every signed-in role.
const protectedSegment = "/(protected)/"

// IsAuthorizedRoute decides whether role may open pathname. It does no I/O.
// Unknown input is denied.
func IsAuthorizedRoute(role models.Role, pathname string) bool {
	if role == "" || pathname == "" {
		return false
	}

	if pathname == string(models.RouteRoot) {
		return true
	}

	if role == models.RoleAdmin {
		return true
	}

	if hasRoleSegment(pathname, role) {
		return true
	}

	for _, other := range models.Roles {
		if other != role && hasRoleSegment(pathname, other) {
			return false
		}
	}

	return strings.Contains(pathname, protectedSegment)
}

func hasRoleSegment(pathname string, role models.Role) bool {
	seg := "/" + string(role)
	return strings.Contains(pathname, seg+"/") || strings.HasSuffix(pathname, seg)
}
