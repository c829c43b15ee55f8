package authz

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/breezeboot/breeze/pkg/auth"
	"github.com/breezeboot/breeze/pkg/dept"
	"github.com/breezeboot/breeze/pkg/permcache"
	"github.com/breezeboot/breeze/pkg/rbac"
	"github.com/breezeboot/breeze/pkg/rowperm"
)

var tracer = otel.Tracer("breeze/authz")

// Builder resolves a principal's bundle from roles, the department
// hierarchy and the row rule engine. It implements permcache.Builder.
type Builder struct {
	resolver *rbac.Resolver
	provider *dept.Provider
	engine   *rowperm.Engine
	logger   logrus.FieldLogger
}

// NewBuilder creates a bundle builder
func NewBuilder(resolver *rbac.Resolver, provider *dept.Provider, engine *rowperm.Engine, logger logrus.FieldLogger) *Builder {
	return &Builder{
		resolver: resolver,
		provider: provider,
		engine:   engine,
		logger:   logger.WithField("component", "authz_builder"),
	}
}

// Build loads the principal's roles and the hierarchy concurrently, then
// compiles the row rules against both
func (b *Builder) Build(ctx context.Context, p *auth.Principal) (*permcache.Bundle, error) {
	ctx, span := tracer.Start(ctx, "BuildBundle",
		trace.WithAttributes(attribute.Int64("principal.id", p.ID)),
	)
	defer span.End()

	var (
		res *rbac.Resolution
		h   *dept.Hierarchy
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = b.resolver.Resolve(gctx, p)
		return err
	})
	g.Go(func() error {
		var err error
		h, err = b.provider.Snapshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve bundle")
		return nil, err
	}

	rules := b.engine.CompileRules(res.Rules, p, h)
	bundle := permcache.NewBundle(p, res.PermissionCodes, res.RoleCodes, rules)

	span.SetAttributes(
		attribute.Int("bundle.permissions", len(bundle.PermissionCodes)),
		attribute.Int("bundle.roles", len(bundle.RoleCodes)),
		attribute.Int("bundle.rules", len(rules)),
	)
	b.logger.WithFields(logrus.Fields{
		"principal_id": p.ID,
		"permissions":  len(bundle.PermissionCodes),
		"rules":        len(rules),
	}).Debug("resolved permission bundle")
	return bundle, nil
}
