package permcache

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/rowperm"
)

// Bundle is the resolved authorization state of one principal: its effective
// permission codes and the compiled row scopes of its rules. A bundle is
// derived data and is never modified after construction.
type Bundle struct {
	// Principal carries the resolved role and permission codes
	Principal       *auth.Principal        `json:"principal"`
	PermissionCodes []string               `json:"permission_codes"`
	RoleCodes       []string               `json:"role_codes"`
	Rules           []rowperm.CompiledRule `json:"rules"`
	Generation      uint64                 `json:"generation"`
	CachedAt        time.Time              `json:"cached_at"`

	codes map[string]struct{}
}

// NewBundle builds a bundle for p. The returned bundle's Principal is a copy
// of p with RoleCodes and PermissionCodes replaced by the resolved values.
func NewBundle(p *auth.Principal, codes map[string]struct{}, roleCodes []string, rules []rowperm.CompiledRule) *Bundle {
	list := make([]string, 0, len(codes))
	set := make(map[string]struct{}, len(codes))
	for c := range codes {
		list = append(list, c)
		set[c] = struct{}{}
	}
	sort.Strings(list)

	var principal *auth.Principal
	if p != nil {
		cp := *p
		cp.RoleCodes = append([]string(nil), roleCodes...)
		cp.PermissionCodes = list
		principal = &cp
	}

	return &Bundle{
		Principal:       principal,
		PermissionCodes: list,
		RoleCodes:       roleCodes,
		Rules:           rules,
		codes:           set,
	}
}

// PrincipalID returns the ID of the bundle's principal
func (b *Bundle) PrincipalID() int64 {
	if b == nil || b.Principal == nil {
		return 0
	}
	return b.Principal.ID
}

// Has reports whether the bundle grants code
func (b *Bundle) Has(code string) bool {
	if b == nil {
		return false
	}
	_, ok := b.codes[code]
	return ok
}

// IsAdmin reports whether the resolved codes contain the administrator code
func (b *Bundle) IsAdmin(adminCode string) bool {
	if b == nil {
		return false
	}
	return auth.IsAdmin(b.Principal, adminCode)
}

// Scope returns the row predicate for entity: the OR of every rule that
// applies to it, or None when no rule does.
func (b *Bundle) Scope(entity string) rowperm.Predicate {
	if b == nil {
		return rowperm.None{}
	}
	return rowperm.Combine(b.Rules, entity)
}

func (b *Bundle) stamp(generation uint64, now time.Time) *Bundle {
	cp := *b
	cp.Generation = generation
	cp.CachedAt = now
	return &cp
}

type bundleJSON Bundle

// UnmarshalJSON decodes a bundle and rebuilds its code index
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var raw bundleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Bundle(raw)
	b.codes = make(map[string]struct{}, len(b.PermissionCodes))
	for _, c := range b.PermissionCodes {
		b.codes[c] = struct{}{}
	}
	return nil
}
