// Package authz is the entry point for access decisions.
//
// An Authorizer answers two questions for an authenticated principal:
//
//	ok, err := authorizer.Authorize(ctx, principal, "user:update")
//	scope, err := authorizer.DataScopeFor(ctx, principal, "order")
//
// Both are served from the principal's cached permission bundle, resolved on
// first use by a Builder that combines the role resolver, the department
// hierarchy and the row rule engine. The scope is a rowperm.Predicate the
// query layer applies to its reads; rowperm.ToSQL renders it for Postgres.
//
// Administrators (principals whose resolved codes contain the admin code)
// pass every check and see every row unless Options.DisableAdminBypass is set.
//
// Write paths must report changes so cached bundles stay correct:
//
//	affected, err := store.AssignRole(ctx, principalID, roleID)
//	authorizer.PrincipalChanged(ctx, affected...)
//
//	authorizer.RoleChanged(ctx, roleID)   // permissions or rules of a role
//	authorizer.RuleChanged(ctx)           // rule payload or scope edited
//	authorizer.DepartmentsChanged(ctx)    // tree moved, added or removed
//
// A Refresher reloads the hierarchy on a cron schedule and invalidates
// bundles only when the structure changed.
package authz
