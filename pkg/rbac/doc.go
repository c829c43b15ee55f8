// Package rbac resolves the roles, permission codes and row permission rules
// of a principal.
//
// # Model
//
// A Role carries permission codes ("user:read", "user:write", ...), references
// to row permission rules and an optional parent role. Permissions of the
// parent are inherited transitively.
//
// A RowPermissionRule restricts which rows of an entity kind a role may see.
// Its ScopeMode is one of:
//
//	self          rows owned by the principal
//	dept          rows of the principal's department
//	dept_and_sub  rows of the principal's department and its descendants
//	custom        clauses stored in the rule payload
//	all           every row
//
// Rules from several roles are combined with OR by the rowperm package.
//
// # Resolution
//
// Resolver.Resolve loads a principal's roles in one query, then fetches parent
// roles one inheritance level at a time, then loads every referenced rule in
// one query. Roles and rules that are referenced but missing are skipped and
// logged; they never add access.
//
//	resolver := rbac.NewResolver(store, logger, 2*time.Second)
//	res, err := resolver.Resolve(ctx, principal)
//	if res.Has("user:write") { ... }
//
// Loader failures and LoadTimeout expiry return accesserr.ErrDependencyUnavailable.
//
// # Storage
//
// Store is the Postgres implementation of Loader and dept.Loader. Its mutation
// methods return the IDs of principals whose access may have changed; pass
// them to the authz invalidation hooks.
//
//	affected, err := store.UpdateRole(ctx, role)
//	authorizer.PrincipalChanged(ctx, affected...)
//
// Apply the schema with RunMigrations. MemoryLoader serves development setups
// and tests.
package rbac
