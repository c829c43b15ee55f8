package authz

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/dept"
	"github.com/breezeboot/breeze/pkg/permcache"
	"github.com/breezeboot/breeze/pkg/rbac"
	"github.com/breezeboot/breeze/pkg/rowperm"
)

// Options configures an Authorizer
type Options struct {
	// AdminCode marks administrators; defaults to auth.DefaultAdminCode
	AdminCode string
	// DisableAdminBypass makes administrators subject to ordinary checks
	DisableAdminBypass bool
}

// Authorizer answers permission and data-scope questions from cached bundles
type Authorizer struct {
	cache       *permcache.Cache
	resolver    *rbac.Resolver
	provider    *dept.Provider
	adminCode   string
	adminBypass bool
	logger      logrus.FieldLogger
}

// New creates an authorizer
func New(cache *permcache.Cache, resolver *rbac.Resolver, provider *dept.Provider, opts Options, logger logrus.FieldLogger) *Authorizer {
	if opts.AdminCode == "" {
		opts.AdminCode = auth.DefaultAdminCode
	}
	return &Authorizer{
		cache:       cache,
		resolver:    resolver,
		provider:    provider,
		adminCode:   opts.AdminCode,
		adminBypass: !opts.DisableAdminBypass,
		logger:      logger.WithField("component", "authz"),
	}
}

// AdminCode returns the administrator permission code in effect
func (a *Authorizer) AdminCode() string {
	return a.adminCode
}

// Bundle returns the principal's resolved bundle
func (a *Authorizer) Bundle(ctx context.Context, p *auth.Principal) (*permcache.Bundle, error) {
	if p == nil {
		return nil, accesserr.ErrAuthenticationRequired
	}
	return a.cache.GetOrResolve(ctx, p)
}

func (a *Authorizer) bypass(b *permcache.Bundle) bool {
	return a.adminBypass && b.IsAdmin(a.adminCode)
}

// Authorize reports whether p holds code. Administrators hold every code
// unless the bypass is disabled.
func (a *Authorizer) Authorize(ctx context.Context, p *auth.Principal, code string) (bool, error) {
	b, err := a.Bundle(ctx, p)
	if err != nil {
		return false, err
	}
	if a.bypass(b) {
		return true, nil
	}
	return b.Has(code), nil
}

// Require is Authorize that reports a denial as accesserr.ErrForbidden
func (a *Authorizer) Require(ctx context.Context, p *auth.Principal, code string) error {
	ok, err := a.Authorize(ctx, p, code)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.WithFields(logrus.Fields{"principal_id": p.ID, "code": code}).Debug("permission denied")
		return accesserr.New(accesserr.ErrForbidden, "missing permission %q", code)
	}
	return nil
}

// IsAdmin reports whether p's resolved codes contain the administrator code
func (a *Authorizer) IsAdmin(ctx context.Context, p *auth.Principal) (bool, error) {
	b, err := a.Bundle(ctx, p)
	if err != nil {
		return false, err
	}
	return b.IsAdmin(a.adminCode), nil
}

// DataScopeFor returns the row predicate limiting what p may see of entity:
// the OR of the scopes of every rule applying to entity, None when no rule
// applies, and All for administrators.
func (a *Authorizer) DataScopeFor(ctx context.Context, p *auth.Principal, entity string) (rowperm.Predicate, error) {
	b, err := a.Bundle(ctx, p)
	if err != nil {
		return nil, err
	}
	if a.bypass(b) {
		return rowperm.All{}, nil
	}
	return b.Scope(entity), nil
}
