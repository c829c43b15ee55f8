package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/breezeboot/breeze/pkg/dept"
)

// MemoryLoader is an in-process Loader and dept.Loader for development and tests.
// It counts calls so tests can assert on batching.
type MemoryLoader struct {
	mu          sync.RWMutex
	roles       map[int64]Role
	rules       map[int64]RowPermissionRule
	assignments map[int64][]int64 // principal -> roles
	departments []dept.Department

	// Err, when set, is returned by every load
	Err error
	// Hook, when set, runs at the start of every load
	Hook func(ctx context.Context) error

	calls atomic.Int64
}

var (
	_ Loader      = (*MemoryLoader)(nil)
	_ dept.Loader = (*MemoryLoader)(nil)
)

// NewMemoryLoader creates an empty loader
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{
		roles:       make(map[int64]Role),
		rules:       make(map[int64]RowPermissionRule),
		assignments: make(map[int64][]int64),
	}
}

// Calls returns how many load calls were made
func (m *MemoryLoader) Calls() int64 { return m.calls.Load() }

// PutRole adds or replaces a role
func (m *MemoryLoader) PutRole(role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.ID] = role
}

// DeleteRole removes a role and its assignments
func (m *MemoryLoader) DeleteRole(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, id)
	for p, ids := range m.assignments {
		kept := ids[:0]
		for _, r := range ids {
			if r != id {
				kept = append(kept, r)
			}
		}
		m.assignments[p] = kept
	}
}

// PutRule adds or replaces a row permission rule
func (m *MemoryLoader) PutRule(rule RowPermissionRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
}

// Assign grants roles to a principal
func (m *MemoryLoader) Assign(principalID int64, roleIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[principalID] = append(m.assignments[principalID], roleIDs...)
}

// SetDepartments replaces the department table
func (m *MemoryLoader) SetDepartments(rows []dept.Department) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.departments = append([]dept.Department(nil), rows...)
}

func (m *MemoryLoader) begin(ctx context.Context) error {
	m.calls.Add(1)
	if m.Hook != nil {
		if err := m.Hook(ctx); err != nil {
			return err
		}
	}
	if m.Err != nil {
		return m.Err
	}
	return ctx.Err()
}

// LoadRolesForPrincipal implements Loader
func (m *MemoryLoader) LoadRolesForPrincipal(ctx context.Context, principalID int64) ([]Role, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Role
	for _, id := range m.assignments[principalID] {
		if role, ok := m.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

// LoadRolesByIDs implements Loader
func (m *MemoryLoader) LoadRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Role
	for _, id := range ids {
		if role, ok := m.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

// LoadRowRulesForRoles implements Loader
func (m *MemoryLoader) LoadRowRulesForRoles(ctx context.Context, roleIDs []int64) ([]RowPermissionRule, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]bool)
	var out []RowPermissionRule
	for _, roleID := range roleIDs {
		for _, ruleID := range m.roles[roleID].RuleIDs {
			rule, ok := m.rules[ruleID]
			if !ok || seen[ruleID] {
				continue
			}
			seen[ruleID] = true
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadRole implements Loader
func (m *MemoryLoader) LoadRole(ctx context.Context, id int64) (*Role, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[id]
	if !ok {
		return nil, nil
	}
	return &role, nil
}

// ListRoles pages through roles ordered by id, matching code and name
// case-insensitively like Store.ListRoles
func (m *MemoryLoader) ListRoles(ctx context.Context, q RoleQuery) (*RolePage, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	q = q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Role
	for _, role := range m.roles {
		if containsFold(role.Code, q.Code) && containsFold(role.Name, q.Name) {
			matched = append(matched, role)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := &RolePage{Total: int64(len(matched)), Page: q.Page, Size: q.Size, Items: []Role{}}
	start := (q.Page - 1) * q.Size
	if start < len(matched) {
		end := min(start+q.Size, len(matched))
		page.Items = append(page.Items, matched[start:end]...)
	}
	return page, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// LoadPrincipalIDsForRole implements Loader, following role inheritance
func (m *MemoryLoader) LoadPrincipalIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	affected := map[int64]bool{roleID: true}
	for changed := true; changed; {
		changed = false
		for id, role := range m.roles {
			if role.ParentRoleID != nil && affected[*role.ParentRoleID] && !affected[id] {
				affected[id] = true
				changed = true
			}
		}
	}

	var out []int64
	for p, ids := range m.assignments {
		for _, id := range ids {
			if affected[id] {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LoadDepartmentTree implements dept.Loader
func (m *MemoryLoader) LoadDepartmentTree(ctx context.Context) ([]dept.Department, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]dept.Department(nil), m.departments...), nil
}
