package rbac

import "context"

// Loader is the data access the resolver depends on. Every method is a single
// bulk query; none is called once per role.
type Loader interface {
	// LoadRolesForPrincipal returns the roles directly assigned to a principal
	LoadRolesForPrincipal(ctx context.Context, principalID int64) ([]Role, error)
	// LoadRolesByIDs returns the roles with the given IDs; missing IDs are omitted
	LoadRolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
	// LoadRowRulesForRoles returns the rules referenced by any of the roles
	LoadRowRulesForRoles(ctx context.Context, roleIDs []int64) ([]RowPermissionRule, error)
	// LoadRole returns one role, or nil when it does not exist
	LoadRole(ctx context.Context, id int64) (*Role, error)
	// LoadPrincipalIDsForRole returns the principals holding a role directly
	LoadPrincipalIDsForRole(ctx context.Context, roleID int64) ([]int64, error)
}
