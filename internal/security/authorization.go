package security

import (
	"github.com/opslink/opslink/internal/domain"
)

// Required-role sets, declared statically per operation. Read operations
// require authentication only.
var (
	RolesCreateIncident    = []domain.Role{domain.RoleDispatcher, domain.RoleSupervisor, domain.RoleAdmin}
	RolesAssignUnits       = []domain.Role{domain.RoleDispatcher, domain.RoleSupervisor, domain.RoleAdmin}
	RolesSetIncidentStatus = []domain.Role{domain.RoleDispatcher, domain.RoleSupervisor, domain.RoleAdmin}
	RolesAddIncidentNote   = []domain.Role{domain.RoleDispatcher, domain.RoleSupervisor, domain.RoleAdmin}
	RolesSetUnitStatus     = []domain.Role{domain.RoleField, domain.RoleDispatcher, domain.RoleSupervisor, domain.RoleAdmin}
	RolesProvisionUnit     = []domain.Role{domain.RoleAdmin}
)

// Authorize checks an identity against a required-role set. It is a pure
// function of its inputs: no identity yields an authentication-required
// error, a role outside the set yields a permission-denied error, and the
// two are never collapsed. An empty set means any authenticated caller.
func Authorize(identity *domain.Identity, required ...domain.Role) error {
	if identity == nil || identity.UserID == "" {
		return domain.AuthRequired("not authenticated")
	}
	if len(required) == 0 {
		return nil
	}
	for _, role := range required {
		if identity.Role == role {
			return nil
		}
	}
	return domain.PermissionDenied("insufficient permissions")
}
