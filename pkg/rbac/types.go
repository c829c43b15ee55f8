package rbac

import (
	"encoding/json"
	"time"
)

// ScopeMode selects how a row permission rule derives its predicate
type ScopeMode string

const (
	ScopeSelf              ScopeMode = "self"         // rows owned by the principal
	ScopeDepartment        ScopeMode = "dept"         // rows of the principal's department
	ScopeDepartmentSubtree ScopeMode = "dept_and_sub" // the principal's department and everything below it
	ScopeCustom            ScopeMode = "custom"       // clauses stored in the rule payload
	ScopeAll               ScopeMode = "all"          // every row
)

// Valid reports whether m is a known scope mode
func (m ScopeMode) Valid() bool {
	switch m {
	case ScopeSelf, ScopeDepartment, ScopeDepartmentSubtree, ScopeCustom, ScopeAll:
		return true
	}
	return false
}

// PermissionKind classifies a permission code
type PermissionKind string

const (
	KindMenu   PermissionKind = "menu"
	KindButton PermissionKind = "button"
	KindAPI    PermissionKind = "api"
)

// Role groups permission codes and row permission rules
type Role struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	ParentRoleID    *int64    `json:"parent_role_id,omitempty"` // For role inheritance
	PermissionCodes []string  `json:"permission_codes"`
	RuleIDs         []int64   `json:"rule_ids,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Permission is an action permission code such as "user:write"
type Permission struct {
	ID       int64          `json:"id"`
	Code     string         `json:"code"`
	ParentID *int64         `json:"parent_id,omitempty"`
	Label    string         `json:"label"`
	Kind     PermissionKind `json:"kind"`
	Sort     int            `json:"sort"`
}

// RowPermissionRule restricts which rows of an entity a role may see
type RowPermissionRule struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Code     string          `json:"code"`
	Scope    ScopeMode       `json:"scope"`
	Entities []string        `json:"entities,omitempty"` // empty applies to every entity kind
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// AppliesTo reports whether the rule covers the entity kind
func (r RowPermissionRule) AppliesTo(entity string) bool {
	if len(r.Entities) == 0 {
		return true
	}
	for _, e := range r.Entities {
		if e == entity || e == "*" {
			return true
		}
	}
	return false
}

// Resolution is the effective access of one principal
type Resolution struct {
	PermissionCodes map[string]struct{} `json:"-"`
	RoleCodes       []string            `json:"role_codes"`
	Rules           []RowPermissionRule `json:"rules"`
}

// Has reports whether the resolution grants code
func (r *Resolution) Has(code string) bool {
	_, ok := r.PermissionCodes[code]
	return ok
}

// Codes returns the permission codes in no particular order
func (r *Resolution) Codes() []string {
	out := make([]string, 0, len(r.PermissionCodes))
	for c := range r.PermissionCodes {
		out = append(out, c)
	}
	return out
}

// PermissionQuery filters a paginated permission listing
type PermissionQuery struct {
	Code     string // substring match
	Label    string // substring match
	ParentID *int64
	Page     int // 1-based
	Size     int
}

// Normalize fills defaults and clamps the page size
func (q PermissionQuery) Normalize() PermissionQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size <= 0 {
		q.Size = 20
	}
	if q.Size > 500 {
		q.Size = 500
	}
	return q
}

// RoleQuery filters a paginated role listing
type RoleQuery struct {
	Code string // substring match
	Name string // substring match
	Page int    // 1-based
	Size int
}

// Normalize fills defaults and clamps the page size
func (q RoleQuery) Normalize() RoleQuery {
	p := PermissionQuery{Page: q.Page, Size: q.Size}.Normalize()
	q.Page, q.Size = p.Page, p.Size
	return q
}

// RolePage is one page of a role listing
type RolePage struct {
	Items []Role `json:"items"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Size  int    `json:"size"`
}

// PermissionPage is one page of a permission listing
type PermissionPage struct {
	Items []Permission `json:"items"`
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
}
