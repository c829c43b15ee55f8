package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/dept"
)

// Store handles RBAC data persistence in Postgres.
// It implements Loader and dept.Loader.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var (
	_ Loader      = (*Store)(nil)
	_ dept.Loader = (*Store)(nil)
)

const roleColumns = `
	r.id, r.code, r.name, r.parent_role_id, r.created_at, r.updated_at,
	ARRAY(SELECT p.code FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
	      WHERE rp.role_id = r.id ORDER BY p.code) AS permission_codes,
	ARRAY(SELECT rr.rule_id FROM role_row_rules rr WHERE rr.role_id = r.id ORDER BY rr.rule_id) AS rule_ids`

// affectedPrincipalsQuery returns the principals holding any of the seed
// roles directly or through a role that inherits from one of them.
const affectedPrincipalsQuery = `
	WITH RECURSIVE affected(id) AS (
		SELECT unnest($1::bigint[])
		UNION
		SELECT r.id FROM roles r JOIN affected a ON r.parent_role_id = a.id
	)
	SELECT DISTINCT pr.principal_id
	FROM principal_roles pr JOIN affected a ON pr.role_id = a.id
	ORDER BY pr.principal_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func scanRole(row rowScanner) (Role, error) {
	var role Role
	var parentRoleID sql.NullInt64
	var ruleIDs pq.Int64Array
	var codes pq.StringArray

	err := row.Scan(
		&role.ID,
		&role.Code,
		&role.Name,
		&parentRoleID,
		&role.CreatedAt,
		&role.UpdatedAt,
		&codes,
		&ruleIDs,
	)
	if err != nil {
		return role, err
	}

	if parentRoleID.Valid {
		id := parentRoleID.Int64
		role.ParentRoleID = &id
	}
	role.PermissionCodes = []string(codes)
	role.RuleIDs = []int64(ruleIDs)
	return role, nil
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// LoadRolesForPrincipal returns the roles directly assigned to a principal
func (s *Store) LoadRolesForPrincipal(ctx context.Context, principalID int64) ([]Role, error) {
	query := `SELECT` + roleColumns + `
		FROM roles r
		JOIN principal_roles pr ON pr.role_id = r.id
		WHERE pr.principal_id = $1
		ORDER BY r.id`

	roles, err := s.queryRoles(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for principal: %w", err)
	}
	return roles, nil
}

// LoadRolesByIDs returns the roles with the given IDs
func (s *Store) LoadRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT` + roleColumns + `
		FROM roles r
		WHERE r.id = ANY($1)
		ORDER BY r.id`

	roles, err := s.queryRoles(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	return roles, nil
}

// LoadRole returns one role, or nil when it does not exist
func (s *Store) LoadRole(ctx context.Context, id int64) (*Role, error) {
	query := `SELECT` + roleColumns + `
		FROM roles r
		WHERE r.id = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles returns one page of roles matching q, ordered by id
func (s *Store) ListRoles(ctx context.Context, q RoleQuery) (*RolePage, error) {
	q = q.Normalize()

	var where []string
	var args []interface{}
	if q.Code != "" {
		args = append(args, "%"+q.Code+"%")
		where = append(where, fmt.Sprintf("r.code ILIKE $%d", len(args)))
	}
	if q.Name != "" {
		args = append(args, "%"+q.Name+"%")
		where = append(where, fmt.Sprintf("r.name ILIKE $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &RolePage{Page: q.Page, Size: q.Size, Items: []Role{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles r`+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count roles: %w", err)
	}

	args = append(args, q.Size, (q.Page-1)*q.Size)
	query := fmt.Sprintf(`SELECT`+roleColumns+` FROM roles r%s ORDER BY r.id LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))
	roles, err := s.queryRoles(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	if roles != nil {
		page.Items = roles
	}
	return page, nil
}

// LoadRowRulesForRoles returns the distinct rules bound to any of the roles
func (s *Store) LoadRowRulesForRoles(ctx context.Context, roleIDs []int64) ([]RowPermissionRule, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT DISTINCT ru.id, ru.name, ru.code, ru.scope, ru.entities, ru.payload
		FROM row_permission_rules ru
		JOIN role_row_rules rr ON rr.rule_id = ru.id
		WHERE rr.role_id = ANY($1)
		ORDER BY ru.id`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load row rules: %w", err)
	}
	defer rows.Close()

	var rules []RowPermissionRule
	for rows.Next() {
		var rule RowPermissionRule
		var scope string
		var entities pq.StringArray
		var payload []byte
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Code, &scope, &entities, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row rule: %w", err)
		}
		rule.Scope = ScopeMode(scope)
		rule.Entities = []string(entities)
		if len(payload) > 0 {
			rule.Payload = json.RawMessage(payload)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// LoadPrincipalIDsForRole returns the principals holding the role directly or
// through a role that inherits from it
func (s *Store) LoadPrincipalIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	return affectedPrincipals(ctx, s.db, []int64{roleID})
}

func affectedPrincipals(ctx context.Context, q queryer, roleIDs []int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx, affectedPrincipalsQuery, pq.Array(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load affected principals: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan principal id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func roleIDsWhere(ctx context.Context, q queryer, query string, arg interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadDepartmentTree returns the flat department table
func (s *Store) LoadDepartmentTree(ctx context.Context) ([]dept.Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id, name, sort FROM departments ORDER BY sort, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}
	defer rows.Close()

	var out []dept.Department
	for rows.Next() {
		var d dept.Department
		var parentID sql.NullInt64
		if err := rows.Scan(&d.ID, &parentID, &d.Name, &d.Sort); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		if parentID.Valid {
			id := parentID.Int64
			d.ParentID = &id
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateRole inserts a role with its permission codes and rule bindings
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (code, name, parent_role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		role.Code, role.Name, role.ParentRoleID, now, now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	if err := replaceRoleBindings(ctx, tx, role); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// UpdateRole replaces a role's attributes, permission codes and rule bindings.
// It returns the principals whose access may have changed.
func (s *Store) UpdateRole(ctx context.Context, role *Role) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE roles SET code = $1, name = $2, parent_role_id = $3, updated_at = $4
		WHERE id = $5`,
		role.Code, role.Name, role.ParentRoleID, now, role.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, accesserr.New(accesserr.ErrRoleNotFound, "role %d not found", role.ID)
	}

	if err := replaceRoleBindings(ctx, tx, role); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role: %w", err)
	}
	role.UpdatedAt = now

	return affectedPrincipals(ctx, s.db, []int64{role.ID})
}

func replaceRoleBindings(ctx context.Context, tx *sql.Tx, role *Role) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if len(role.PermissionCodes) > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE code = ANY($2)`,
			role.ID, pq.Array(role.PermissionCodes),
		)
		if err != nil {
			return fmt.Errorf("failed to set role permissions: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_row_rules WHERE role_id = $1`, role.ID); err != nil {
		return fmt.Errorf("failed to clear role rules: %w", err)
	}
	if len(role.RuleIDs) > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO role_row_rules (role_id, rule_id)
			SELECT $1, id FROM row_permission_rules WHERE id = ANY($2)`,
			role.ID, pq.Array(role.RuleIDs),
		)
		if err != nil {
			return fmt.Errorf("failed to set role rules: %w", err)
		}
	}
	return nil
}

// DeleteRole deletes a role. Memberships and rule bindings cascade.
// It returns the principals whose access may have changed.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// the row lock blocks concurrent assignments until the delete commits
	var locked int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, accesserr.New(accesserr.ErrRoleNotFound, "role %d not found", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock role: %w", err)
	}

	affected, err := affectedPrincipals(ctx, tx, []int64{roleID})
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return nil, fmt.Errorf("failed to delete role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role deletion: %w", err)
	}
	return affected, nil
}

// AssignRole grants a role to a principal
func (s *Store) AssignRole(ctx context.Context, principalID, roleID int64) ([]int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO principal_roles (principal_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		principalID, roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	return []int64{principalID}, nil
}

// RevokeRole removes a role from a principal
func (s *Store) RevokeRole(ctx context.Context, principalID, roleID int64) ([]int64, error) {
	_, err := s.db.ExecContext(ctx, `DELETE FROM principal_roles WHERE principal_id = $1 AND role_id = $2`, principalID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke role: %w", err)
	}
	return []int64{principalID}, nil
}

// CreatePermission inserts a permission code
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (code, parent_id, label, kind, sort)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		perm.Code, perm.ParentID, perm.Label, string(perm.Kind), perm.Sort,
	).Scan(&perm.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// DeletePermission deletes a permission and returns the principals that held it
func (s *Store) DeletePermission(ctx context.Context, id int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	roleIDs, err := roleIDsWhere(ctx, tx, `SELECT role_id FROM role_permissions WHERE permission_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find roles for permission: %w", err)
	}
	affected, err := affectedPrincipals(ctx, tx, roleIDs)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete permission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit permission deletion: %w", err)
	}
	return affected, nil
}

// ListPermissions returns one page of permissions matching q
func (s *Store) ListPermissions(ctx context.Context, q PermissionQuery) (*PermissionPage, error) {
	q = q.Normalize()

	var where []string
	var args []interface{}
	if q.Code != "" {
		args = append(args, "%"+q.Code+"%")
		where = append(where, fmt.Sprintf("code ILIKE $%d", len(args)))
	}
	if q.Label != "" {
		args = append(args, "%"+q.Label+"%")
		where = append(where, fmt.Sprintf("label ILIKE $%d", len(args)))
	}
	if q.ParentID != nil {
		args = append(args, *q.ParentID)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &PermissionPage{Page: q.Page, Size: q.Size, Items: []Permission{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions`+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}

	args = append(args, q.Size, (q.Page-1)*q.Size)
	query := fmt.Sprintf(`SELECT id, code, parent_id, label, kind, sort FROM permissions%s ORDER BY sort, id LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Permission
		var parentID sql.NullInt64
		var kind string
		if err := rows.Scan(&p.ID, &p.Code, &parentID, &p.Label, &kind, &p.Sort); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if parentID.Valid {
			id := parentID.Int64
			p.ParentID = &id
		}
		p.Kind = PermissionKind(kind)
		page.Items = append(page.Items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return page, nil
}

// SaveRowRule inserts or updates a rule by code and returns the principals
// whose data scope may have changed
func (s *Store) SaveRowRule(ctx context.Context, rule *RowPermissionRule) ([]int64, error) {
	if !rule.Scope.Valid() {
		return nil, accesserr.New(accesserr.ErrInvalidParameter, "unknown scope mode %q", rule.Scope)
	}
	var payload interface{}
	if len(rule.Payload) > 0 {
		payload = []byte(rule.Payload)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO row_permission_rules (name, code, scope, entities, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, scope = EXCLUDED.scope, entities = EXCLUDED.entities, payload = EXCLUDED.payload
		RETURNING id`,
		rule.Name, rule.Code, string(rule.Scope), pq.Array(rule.Entities), payload,
	).Scan(&rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to save row rule: %w", err)
	}

	return principalsForRule(ctx, s.db, rule.ID)
}

// DeleteRowRule deletes a rule and its role bindings
func (s *Store) DeleteRowRule(ctx context.Context, ruleID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	affected, err := principalsForRule(ctx, tx, ruleID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM row_permission_rules WHERE id = $1`, ruleID); err != nil {
		return nil, fmt.Errorf("failed to delete row rule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit row rule deletion: %w", err)
	}
	return affected, nil
}

func principalsForRule(ctx context.Context, q queryer, ruleID int64) ([]int64, error) {
	roleIDs, err := roleIDsWhere(ctx, q, `SELECT role_id FROM role_row_rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find roles for rule: %w", err)
	}
	return affectedPrincipals(ctx, q, roleIDs)
}

// CreateDepartment inserts a department
func (s *Store) CreateDepartment(ctx context.Context, d *dept.Department) error {
	var parentID interface{}
	if !d.IsRoot() {
		parentID = *d.ParentID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO departments (parent_id, name, sort)
		VALUES ($1, $2, $3)
		RETURNING id`,
		parentID, d.Name, d.Sort,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to create department: %w", err)
	}
	return nil
}

// MoveDepartment changes a department's parent. The caller must reject moves
// that would create a cycle; Hierarchy.IsAncestor answers that.
func (s *Store) MoveDepartment(ctx context.Context, id int64, parentID *int64) error {
	var parent interface{}
	if parentID != nil && *parentID != 0 {
		parent = *parentID
	}
	result, err := s.db.ExecContext(ctx, `UPDATE departments SET parent_id = $1 WHERE id = $2`, parent, id)
	if err != nil {
		return fmt.Errorf("failed to move department: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return accesserr.New(accesserr.ErrDepartmentNotFound, "department %d not found", id)
	}
	return nil
}

// CountDepartmentMembers returns how many principals belong to the department
func (s *Store) CountDepartmentMembers(ctx context.Context, id int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principal_departments WHERE dept_id = $1`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count department members: %w", err)
	}
	return n, nil
}

// DeleteDepartment removes an empty department. Departments with children or
// members are rejected with accesserr.ErrDepartmentNotEmpty.
func (s *Store) DeleteDepartment(ctx context.Context, h *dept.Hierarchy, id int64) error {
	members, err := s.CountDepartmentMembers(ctx, id)
	if err != nil {
		return err
	}
	if err := h.CheckRemovable(id, members); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete department: %w", err)
	}
	return nil
}
