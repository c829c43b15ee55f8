package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/dept"
	"github.com/breezeboot/breeze/pkg/httputil"
	"github.com/breezeboot/breeze/pkg/middleware"
	"github.com/breezeboot/breeze/pkg/rbac"
	"github.com/breezeboot/breeze/pkg/rowperm"
)

// AdminPermission guards the role, rule and department management API
const AdminPermission = "rbac:admin"

// adminStore is the management side of rbac.Store. Mutations that change access
// return the principals whose bundles must be dropped.
type adminStore interface {
	LoadRole(ctx context.Context, id int64) (*rbac.Role, error)
	ListRoles(ctx context.Context, q rbac.RoleQuery) (*rbac.RolePage, error)
	LoadRolesForPrincipal(ctx context.Context, principalID int64) ([]rbac.Role, error)
	CreateRole(ctx context.Context, role *rbac.Role) error
	UpdateRole(ctx context.Context, role *rbac.Role) ([]int64, error)
	DeleteRole(ctx context.Context, roleID int64) ([]int64, error)
	AssignRole(ctx context.Context, principalID, roleID int64) ([]int64, error)
	RevokeRole(ctx context.Context, principalID, roleID int64) ([]int64, error)

	CreatePermission(ctx context.Context, perm *rbac.Permission) error
	DeletePermission(ctx context.Context, id int64) ([]int64, error)
	ListPermissions(ctx context.Context, q rbac.PermissionQuery) (*rbac.PermissionPage, error)

	SaveRowRule(ctx context.Context, rule *rbac.RowPermissionRule) ([]int64, error)
	DeleteRowRule(ctx context.Context, ruleID int64) ([]int64, error)

	CreateDepartment(ctx context.Context, d *dept.Department) error
	MoveDepartment(ctx context.Context, id int64, parentID *int64) error
	DeleteDepartment(ctx context.Context, h *dept.Hierarchy, id int64) error
}

var _ adminStore = (*rbac.Store)(nil)

func (s *server) adminRoutes(router *mux.Router) {
	admin := router.PathPrefix("/v1/admin").Subrouter()
	admin.Use(
		middleware.NewAuthMiddleware(s.sessions, s.audit, false).Handler,
		middleware.RequirePermission(s.authorizer, s.audit, AdminPermission),
		httputil.MaxBytesMiddleware(maxBodyBytes),
		httputil.ContentTypeMiddleware,
	)

	// Roles
	admin.HandleFunc("/roles", s.listRoles).Methods(http.MethodGet)
	admin.HandleFunc("/roles", s.createRole).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id}", s.getRole).Methods(http.MethodGet)
	admin.HandleFunc("/roles/{id}", s.updateRole).Methods(http.MethodPut)
	admin.HandleFunc("/roles/{id}", s.deleteRole).Methods(http.MethodDelete)

	// Principal role assignments
	admin.HandleFunc("/principals/{id}/roles", s.principalRoles).Methods(http.MethodGet)
	admin.HandleFunc("/principals/{id}/roles/{role_id}", s.assignRole).Methods(http.MethodPut)
	admin.HandleFunc("/principals/{id}/roles/{role_id}", s.revokeRole).Methods(http.MethodDelete)

	// Permission codes
	admin.HandleFunc("/permissions", s.listPermissions).Methods(http.MethodGet)
	admin.HandleFunc("/permissions", s.createPermission).Methods(http.MethodPost)
	admin.HandleFunc("/permissions/{id}", s.deletePermission).Methods(http.MethodDelete)

	// Row permission rules
	admin.HandleFunc("/rules", s.saveRule).Methods(http.MethodPut)
	admin.HandleFunc("/rules/{id}", s.deleteRule).Methods(http.MethodDelete)

	// Departments
	admin.HandleFunc("/departments", s.departmentTree).Methods(http.MethodGet)
	admin.HandleFunc("/departments", s.createDepartment).Methods(http.MethodPost)
	admin.HandleFunc("/departments/{id}/parent", s.moveDepartment).Methods(http.MethodPut)
	admin.HandleFunc("/departments/{id}", s.deleteDepartment).Methods(http.MethodDelete)
}

// changed drops the bundles of affected principals and records the change
func (s *server) changed(w http.ResponseWriter, r *http.Request, resource string, affected []int64) bool {
	if err := s.authorizer.PrincipalChanged(r.Context(), affected...); err != nil {
		s.fail(w, r, "admin", err)
		return false
	}
	s.audit.LogFromRequest(r, middleware.GetPrincipal(r), auth.ActionRBACChange, resource, auth.StatusSuccess, nil)
	return true
}

type roleRequest struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	ParentRoleID    *int64   `json:"parent_role_id,omitempty"`
	PermissionCodes []string `json:"permission_codes"`
	RuleIDs         []int64  `json:"rule_ids,omitempty"`
}

func (req roleRequest) role(id int64) *rbac.Role {
	return &rbac.Role{
		ID:              id,
		Code:            req.Code,
		Name:            req.Name,
		ParentRoleID:    req.ParentRoleID,
		PermissionCodes: req.PermissionCodes,
		RuleIDs:         req.RuleIDs,
	}
}

// parsePage reads the page and size query params shared by the listings
func parsePage(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, 0, false
	}
	size, err = httputil.ParseQueryInt(r, "size", 20)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, 0, false
	}
	return page, size, true
}

func (s *server) listRoles(w http.ResponseWriter, r *http.Request) {
	page, size, ok := parsePage(w, r)
	if !ok {
		return
	}
	result, err := s.admin.ListRoles(r.Context(), rbac.RoleQuery{
		Code: r.URL.Query().Get("code"),
		Name: r.URL.Query().Get("name"),
		Page: page,
		Size: size,
	})
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, result)
}

// principalRoles lists the roles assigned directly to a principal
func (s *server) principalRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := s.admin.LoadRolesForPrincipal(r.Context(), id)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

func (s *server) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}

	role := req.role(0)
	if err := s.admin.CreateRole(r.Context(), role); err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	// nobody holds a new role yet
	if !s.changed(w, r, "role:"+strconv.FormatInt(role.ID, 10), nil) {
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, role)
}

func (s *server) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := s.admin.LoadRole(r.Context(), id)
	if err == nil && role == nil {
		err = accesserr.New(accesserr.ErrRoleNotFound, "role %d not found", id)
	}
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, role)
}

func (s *server) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}
	if req.ParentRoleID != nil && *req.ParentRoleID == id {
		httputil.WriteAccessError(w, accesserr.New(accesserr.ErrInvalidParameter, "role %d cannot inherit from itself", id))
		return
	}

	role := req.role(id)
	affected, err := s.admin.UpdateRole(r.Context(), role)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if !s.changed(w, r, "role:"+strconv.FormatInt(id, 10), affected) {
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, role)
}

func (s *server) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	affected, err := s.admin.DeleteRole(r.Context(), id)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.changed(w, r, "role:"+strconv.FormatInt(id, 10), affected) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) assignRole(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, s.admin.AssignRole)
}

func (s *server) revokeRole(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, s.admin.RevokeRole)
}

func (s *server) membership(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, principalID, roleID int64) ([]int64, error)) {
	principalID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	affected, err := apply(r.Context(), principalID, roleID)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.changed(w, r, "principal:"+strconv.FormatInt(principalID, 10), affected) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) listPermissions(w http.ResponseWriter, r *http.Request) {
	page, size, ok := parsePage(w, r)
	if !ok {
		return
	}

	q := rbac.PermissionQuery{
		Code:  r.URL.Query().Get("code"),
		Label: r.URL.Query().Get("label"),
		Page:  page,
		Size:  size,
	}
	if raw := r.URL.Query().Get("parent_id"); raw != "" {
		parentID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid integer for query param parent_id: "+raw)
			return
		}
		q.ParentID = &parentID
	}

	result, err := s.admin.ListPermissions(r.Context(), q)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *server) createPermission(w http.ResponseWriter, r *http.Request) {
	var perm rbac.Permission
	if !httputil.ParseJSONOrError(w, r, &perm) {
		return
	}
	if perm.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}
	if perm.Kind == "" {
		perm.Kind = rbac.KindAPI
	}
	if err := s.admin.CreatePermission(r.Context(), &perm); err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.changed(w, r, "permission:"+perm.Code, nil) {
		_ = httputil.WriteJSON(w, http.StatusCreated, perm)
	}
}

func (s *server) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	affected, err := s.admin.DeletePermission(r.Context(), id)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.changed(w, r, "permission:"+strconv.FormatInt(id, 10), affected) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) saveRule(w http.ResponseWriter, r *http.Request) {
	var rule rbac.RowPermissionRule
	if !httputil.ParseJSONOrError(w, r, &rule) {
		return
	}
	if rule.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}
	if !rule.Scope.Valid() {
		httputil.WriteAccessError(w, accesserr.New(accesserr.ErrInvalidParameter, "unknown scope mode %q", rule.Scope))
		return
	}
	// a stored rule that fails to parse denies every row, so refuse it here
	if rule.Scope == rbac.ScopeCustom {
		if _, err := rowperm.ParsePayload(rule.Payload, s.fields); err != nil {
			httputil.WriteAccessError(w, err)
			return
		}
	}

	affected, err := s.admin.SaveRowRule(r.Context(), &rule)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.changed(w, r, "rule:"+rule.Code, affected) {
		_ = httputil.WriteJSON(w, http.StatusOK, rule)
	}
}

func (s *server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	affected, err := s.admin.DeleteRowRule(r.Context(), id)
	if err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.changed(w, r, "rule:"+strconv.FormatInt(id, 10), affected) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) departmentTree(w http.ResponseWriter, r *http.Request) {
	h := s.provider.Current()
	if h == nil {
		httputil.WriteAccessError(w, accesserr.New(accesserr.ErrDependencyUnavailable, "department hierarchy not loaded"))
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, h.Tree())
}

// departmentsChanged rebuilds the hierarchy after a structural edit
func (s *server) departmentsChanged(w http.ResponseWriter, r *http.Request, resource string) bool {
	if err := s.authorizer.DepartmentsChanged(r.Context()); err != nil {
		s.fail(w, r, "admin", err)
		return false
	}
	s.audit.LogFromRequest(r, middleware.GetPrincipal(r), auth.ActionRBACChange, resource, auth.StatusSuccess, nil)
	return true
}

func (s *server) createDepartment(w http.ResponseWriter, r *http.Request) {
	var d dept.Department
	if !httputil.ParseJSONOrError(w, r, &d) {
		return
	}
	if d.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	if !d.IsRoot() {
		if h := s.provider.Current(); h != nil && !h.Contains(*d.ParentID) {
			httputil.WriteAccessError(w, accesserr.New(accesserr.ErrDepartmentNotFound, "parent department %d not found", *d.ParentID))
			return
		}
	}

	if err := s.admin.CreateDepartment(r.Context(), &d); err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.departmentsChanged(w, r, "department:"+strconv.FormatInt(d.ID, 10)) {
		_ = httputil.WriteJSON(w, http.StatusCreated, d)
	}
}

type moveRequest struct {
	ParentID *int64 `json:"parent_id"`
}

func (s *server) moveDepartment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req moveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	h := s.provider.Current()
	if h == nil {
		httputil.WriteAccessError(w, accesserr.New(accesserr.ErrDependencyUnavailable, "department hierarchy not loaded"))
		return
	}
	if !h.Contains(id) {
		httputil.WriteAccessError(w, accesserr.New(accesserr.ErrDepartmentNotFound, "department %d not found", id))
		return
	}
	if req.ParentID != nil && *req.ParentID != 0 {
		parent := *req.ParentID
		if !h.Contains(parent) {
			httputil.WriteAccessError(w, accesserr.New(accesserr.ErrDepartmentNotFound, "parent department %d not found", parent))
			return
		}
		if h.InSubtree(id, parent) {
			httputil.WriteAccessError(w, accesserr.New(accesserr.ErrCycleDetected, "department %d cannot move under its own subtree", id))
			return
		}
	}

	if err := s.admin.MoveDepartment(r.Context(), id, req.ParentID); err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.departmentsChanged(w, r, "department:"+strconv.FormatInt(id, 10)) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) deleteDepartment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	h := s.provider.Current()
	if h == nil {
		httputil.WriteAccessError(w, accesserr.New(accesserr.ErrDependencyUnavailable, "department hierarchy not loaded"))
		return
	}
	if err := s.admin.DeleteDepartment(r.Context(), h, id); err != nil {
		s.fail(w, r, "admin", err)
		return
	}
	if s.departmentsChanged(w, r, "department:"+strconv.FormatInt(id, 10)) {
		w.WriteHeader(http.StatusNoContent)
	}
}
