package rbac

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
)

// Resolver computes the effective permission codes and row rules of a principal
type Resolver struct {
	loader      Loader
	logger      logrus.FieldLogger
	loadTimeout time.Duration
}

// NewResolver creates a resolver. A zero loadTimeout leaves the caller's deadline in charge.
func NewResolver(loader Loader, logger logrus.FieldLogger, loadTimeout time.Duration) *Resolver {
	return &Resolver{
		loader:      loader,
		logger:      logger.WithField("component", "rbac"),
		loadTimeout: loadTimeout,
	}
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.loadTimeout > 0 {
		return context.WithTimeout(ctx, r.loadTimeout)
	}
	return context.WithCancel(ctx)
}

// Resolve unions the permission codes and row rules of every role the
// principal holds, directly or through parent roles. Parent roles are fetched
// one level at a time in a single query per level. Roles or rules that are
// referenced but missing are skipped with a warning.
func (r *Resolver) Resolve(ctx context.Context, p *auth.Principal) (*Resolution, error) {
	if p == nil {
		return nil, accesserr.ErrAuthenticationRequired
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log := r.logger.WithField("principal_id", p.ID)

	direct, err := r.loader.LoadRolesForPrincipal(ctx, p.ID)
	if err != nil {
		return nil, accesserr.Unavailable(err, "load roles for principal %d", p.ID)
	}

	roles := make(map[int64]Role, len(direct))
	level := direct
	for len(level) > 0 {
		var added []Role
		for _, role := range level {
			if _, ok := roles[role.ID]; ok {
				continue
			}
			roles[role.ID] = role
			added = append(added, role)
		}
		var parents []int64
		for _, role := range added {
			if role.ParentRoleID == nil {
				continue
			}
			if _, ok := roles[*role.ParentRoleID]; !ok {
				parents = append(parents, *role.ParentRoleID)
			}
		}
		parents = uniqueIDs(parents)
		if len(parents) == 0 {
			break
		}

		loaded, err := r.loader.LoadRolesByIDs(ctx, parents)
		if err != nil {
			return nil, accesserr.Unavailable(err, "load parent roles for principal %d", p.ID)
		}
		found := make(map[int64]bool, len(loaded))
		for _, role := range loaded {
			found[role.ID] = true
		}
		for _, id := range parents {
			if !found[id] {
				log.WithField("role_id", id).Warn("parent role not found, skipping")
			}
		}
		level = loaded
	}

	res := &Resolution{PermissionCodes: make(map[string]struct{})}
	roleIDs := make([]int64, 0, len(roles))
	wantRules := make(map[int64]bool)
	for id, role := range roles {
		roleIDs = append(roleIDs, id)
		res.RoleCodes = append(res.RoleCodes, role.Code)
		for _, code := range role.PermissionCodes {
			res.PermissionCodes[code] = struct{}{}
		}
		for _, ruleID := range role.RuleIDs {
			wantRules[ruleID] = true
		}
	}
	sort.Strings(res.RoleCodes)
	sort.Slice(roleIDs, func(i, j int) bool { return roleIDs[i] < roleIDs[j] })

	if len(roleIDs) == 0 {
		return res, nil
	}

	rules, err := r.loader.LoadRowRulesForRoles(ctx, roleIDs)
	if err != nil {
		return nil, accesserr.Unavailable(err, "load row rules for principal %d", p.ID)
	}

	seen := make(map[int64]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.ID] {
			continue
		}
		seen[rule.ID] = true
		res.Rules = append(res.Rules, rule)
	}
	sort.Slice(res.Rules, func(i, j int) bool { return res.Rules[i].ID < res.Rules[j].ID })

	for id := range wantRules {
		if !seen[id] {
			log.WithField("rule_id", id).Warn("row permission rule not found, skipping")
		}
	}

	return res, nil
}

// LookupRole returns a single role by ID
func (r *Resolver) LookupRole(ctx context.Context, id int64) (*Role, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	role, err := r.loader.LoadRole(ctx, id)
	if err != nil {
		return nil, accesserr.Unavailable(err, "load role %d", id)
	}
	if role == nil {
		return nil, accesserr.New(accesserr.ErrRoleNotFound, "role %d not found", id)
	}
	return role, nil
}

// PrincipalsForRole returns the principals affected by a change to the role
func (r *Resolver) PrincipalsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ids, err := r.loader.LoadPrincipalIDsForRole(ctx, roleID)
	if err != nil {
		return nil, accesserr.Unavailable(err, "load principals for role %d", roleID)
	}
	return ids, nil
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[int64]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
