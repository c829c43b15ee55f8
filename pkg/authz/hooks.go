package authz

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PrincipalChanged invalidates principals whose role assignment or
// department changed
func (a *Authorizer) PrincipalChanged(ctx context.Context, principalIDs ...int64) error {
	return a.cache.Invalidate(ctx, principalIDs...)
}

// RoleChanged invalidates every principal holding roleID directly or
// through inheritance. When the members cannot be listed, every bundle is
// dropped instead.
func (a *Authorizer) RoleChanged(ctx context.Context, roleID int64) error {
	ids, err := a.resolver.PrincipalsForRole(ctx, roleID)
	if err != nil {
		a.logger.WithError(err).WithField("role_id", roleID).Warn("failed to list role members, invalidating all bundles")
		return a.cache.InvalidateAll(ctx)
	}
	a.logger.WithFields(logrus.Fields{"role_id": roleID, "principals": len(ids)}).Debug("role changed")
	return a.cache.Invalidate(ctx, ids...)
}

// RuleChanged drops every bundle after a row rule was edited or removed
func (a *Authorizer) RuleChanged(ctx context.Context) error {
	return a.cache.InvalidateAll(ctx)
}

// PermissionChanged drops every bundle after a permission was removed
func (a *Authorizer) PermissionChanged(ctx context.Context) error {
	return a.cache.InvalidateAll(ctx)
}

// DepartmentsChanged rebuilds the hierarchy and drops every bundle. If the
// rebuild fails the previous hierarchy and bundles stay in service.
func (a *Authorizer) DepartmentsChanged(ctx context.Context) error {
	if _, err := a.provider.Rebuild(ctx); err != nil {
		return err
	}
	return a.cache.InvalidateAll(ctx)
}
