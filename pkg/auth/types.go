package auth

import (
	"context"
	"time"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/contextkeys"
)

// DefaultAdminCode is the permission code that marks a principal as administrator
const DefaultAdminCode = "ROLE_ADMIN"

// Principal is an authenticated actor as stored with its session.
// A Principal is an immutable snapshot; callers must not modify the slices.
type Principal struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	RoleCodes       []string  `json:"role_codes,omitempty"`
	PermissionCodes []string  `json:"permission_codes,omitempty"`
	DeptID          *int64    `json:"dept_id,omitempty"`
	IssuedAt        time.Time `json:"issued_at"`
}

// HasDepartment reports whether the principal belongs to a department
func (p *Principal) HasDepartment() bool {
	return p != nil && p.DeptID != nil && *p.DeptID != 0
}

// IsAdmin reports whether p carries the administrator code.
// An empty adminCode falls back to DefaultAdminCode.
func IsAdmin(p *Principal, adminCode string) bool {
	if p == nil {
		return false
	}
	if adminCode == "" {
		adminCode = DefaultAdminCode
	}
	for _, code := range p.PermissionCodes {
		if code == adminCode {
			return true
		}
	}
	return false
}

// WithPrincipal attaches the principal to ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// CurrentPrincipal returns the principal attached to ctx
func CurrentPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	if !ok || p == nil {
		return nil, accesserr.ErrAuthenticationRequired
	}
	return p, nil
}
