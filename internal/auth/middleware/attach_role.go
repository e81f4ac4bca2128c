package auth

import (
	"context"

	"github.com/mind-engage/courseimport/internal/rbac"
)

// CanAccessOrganization reports whether the caller in ctx may act on orgID.
// Roles holding import:view-all see every organization; everyone else is
// limited to the organization in their token, or any organization when the
// token carries none (dev tokens).
func CanAccessOrganization(ctx context.Context, orgID string) bool {
	role := rbac.RoleFromContext(ctx)
	if rbac.Default().Has(role, rbac.PermViewAll) {
		return true
	}
	claim := OrganizationFromContext(ctx)
	return claim == "" || claim == orgID
}
