package permcache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/async"
	"github.com/breezeboot/breeze/pkg/auth"
)

const publishTimeout = 5 * time.Second

// Builder resolves a fresh bundle for a principal
type Builder interface {
	Build(ctx context.Context, p *auth.Principal) (*Bundle, error)
}

// BuilderFunc adapts a function to Builder
type BuilderFunc func(ctx context.Context, p *auth.Principal) (*Bundle, error)

func (f BuilderFunc) Build(ctx context.Context, p *auth.Principal) (*Bundle, error) {
	return f(ctx, p)
}

// Options configures a Cache
type Options struct {
	// Storage defaults to a MemoryStorage with default size and no TTL
	Storage Storage
	// BuildTimeout bounds one resolution. Zero means no extra bound.
	BuildTimeout time.Duration
	Metrics      *Metrics
	// Broadcaster, when set, propagates invalidations to other instances
	Broadcaster *Broadcaster
}

// Cache memoizes bundles per principal. Concurrent misses for the same
// principal share one resolution. A resolution overtaken by an invalidation
// is returned to the callers already waiting on it but never stored, and
// callers arriving after the invalidation start a fresh one.
type Cache struct {
	storage      Storage
	builder      Builder
	buildTimeout time.Duration
	metrics      *Metrics
	broadcaster  *Broadcaster
	logger       logrus.FieldLogger

	flight     singleflight.Group
	generation atomic.Uint64

	mu       sync.Mutex
	inflight map[int64]*flightState
}

type flightState struct {
	stale bool
}

// New creates a cache in front of builder
func New(builder Builder, opts Options, logger logrus.FieldLogger) *Cache {
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage(0, 0)
	}
	return &Cache{
		storage:      opts.Storage,
		builder:      builder,
		buildTimeout: opts.BuildTimeout,
		metrics:      opts.Metrics,
		broadcaster:  opts.Broadcaster,
		logger:       logger.WithField("component", "permcache"),
		inflight:     make(map[int64]*flightState),
	}
}

// Generation returns the generation stamped on the most recent resolution
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// GetOrResolve returns the principal's bundle, resolving it on a miss
func (c *Cache) GetOrResolve(ctx context.Context, p *auth.Principal) (*Bundle, error) {
	if p == nil {
		return nil, accesserr.ErrAuthenticationRequired
	}

	if b, ok := c.lookup(ctx, p.ID); ok {
		c.metrics.hit(c.storage.Name())
		return b, nil
	}
	c.metrics.miss(c.storage.Name())

	ch := c.flight.DoChan(strconv.FormatInt(p.ID, 10), func() (interface{}, error) {
		return c.resolve(ctx, p)
	})

	select {
	case <-ctx.Done():
		return nil, accesserr.Unavailable(ctx.Err(), "resolution of principal %d abandoned", p.ID)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	}
}

func (c *Cache) lookup(ctx context.Context, principalID int64) (*Bundle, bool) {
	b, ok, err := c.storage.Get(ctx, principalID)
	if err != nil {
		c.metrics.storageError(c.storage.Name(), "get")
		c.logger.WithError(err).WithField("principal_id", principalID).Warn("cache read failed, resolving")
		return nil, false
	}
	return b, ok
}

// resolve runs inside the flight. It is detached from the caller's
// cancellation because other callers may be waiting on the same result.
func (c *Cache) resolve(ctx context.Context, p *auth.Principal) (*Bundle, error) {
	state := c.begin(p.ID)
	defer c.end(p.ID, state)

	buildCtx := context.WithoutCancel(ctx)
	if c.buildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(buildCtx, c.buildTimeout)
		defer cancel()
	}

	if b, ok := c.lookup(buildCtx, p.ID); ok {
		return b, nil
	}

	start := time.Now()
	b, err := c.builder.Build(buildCtx, p)
	c.metrics.resolved(time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.WithError(err).WithField("principal_id", p.ID).Warn("bundle resolution failed")
		return nil, err
	}

	b = b.stamp(c.generation.Add(1), time.Now())

	if c.isStale(state) {
		c.logger.WithField("principal_id", p.ID).Debug("invalidated during resolution, not caching")
		return b, nil
	}

	if err := c.storage.Set(buildCtx, b); err != nil {
		c.metrics.storageError(c.storage.Name(), "set")
		c.logger.WithError(err).WithField("principal_id", p.ID).Warn("cache write failed")
	}
	// an invalidation between the check and the write must not leave b behind
	if c.isStale(state) {
		if err := c.storage.Delete(buildCtx, p.ID); err != nil {
			c.metrics.storageError(c.storage.Name(), "delete")
			c.logger.WithError(err).WithField("principal_id", p.ID).Warn("failed to drop bundle invalidated during write")
		}
	}
	return b, nil
}

func (c *Cache) isStale(state *flightState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return state.stale
}

func (c *Cache) begin(principalID int64) *flightState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := &flightState{}
	c.inflight[principalID] = state
	return state
}

func (c *Cache) end(principalID int64, state *flightState) {
	c.mu.Lock()
	// a newer flight may have replaced this one after an invalidation
	if c.inflight[principalID] == state {
		delete(c.inflight, principalID)
	}
	c.mu.Unlock()
}

// detach marks a running resolution stale and releases its flight key so
// later callers start a new resolution instead of joining the old one.
// Callers hold c.mu.
func (c *Cache) detach(principalID int64, state *flightState) {
	state.stale = true
	c.flight.Forget(strconv.FormatInt(principalID, 10))
}

// Invalidate drops the bundles of the given principals here and, with a
// broadcaster, on other instances
func (c *Cache) Invalidate(ctx context.Context, principalIDs ...int64) error {
	if len(principalIDs) == 0 {
		return nil
	}
	err := c.invalidateLocal(ctx, principalIDs, "local")
	c.publish(ctx, false, principalIDs)
	return err
}

// InvalidateAll drops every bundle here and, with a broadcaster, on other
// instances
func (c *Cache) InvalidateAll(ctx context.Context) error {
	err := c.invalidateAllLocal(ctx, "local")
	c.publish(ctx, true, nil)
	return err
}

func (c *Cache) invalidateLocal(ctx context.Context, principalIDs []int64, source string) error {
	c.mu.Lock()
	for _, id := range principalIDs {
		if state, ok := c.inflight[id]; ok {
			c.detach(id, state)
		}
	}
	c.mu.Unlock()

	c.metrics.invalidated("principal", source, len(principalIDs))
	if err := c.storage.Delete(ctx, principalIDs...); err != nil {
		c.metrics.storageError(c.storage.Name(), "delete")
		return accesserr.Unavailable(err, "failed to invalidate %d principals", len(principalIDs))
	}
	c.logger.WithFields(logrus.Fields{"principal_ids": principalIDs, "source": source}).Debug("invalidated bundles")
	return nil
}

func (c *Cache) invalidateAllLocal(ctx context.Context, source string) error {
	c.mu.Lock()
	for id, state := range c.inflight {
		c.detach(id, state)
	}
	c.mu.Unlock()

	c.metrics.invalidated("all", source, 1)
	if err := c.storage.Purge(ctx); err != nil {
		c.metrics.storageError(c.storage.Name(), "purge")
		return accesserr.Unavailable(err, "failed to purge bundle cache")
	}
	c.logger.WithField("source", source).Info("invalidated all bundles")
	return nil
}

func (c *Cache) publish(ctx context.Context, all bool, principalIDs []int64) {
	if c.broadcaster == nil {
		return
	}
	ids := append([]int64(nil), principalIDs...)
	async.SafeGo(ctx, publishTimeout, "broadcast invalidation", c.logger, func(ctx context.Context) error {
		return c.broadcaster.Publish(ctx, all, ids...)
	})
}

// ListenRemote applies invalidations published by other instances until ctx
// is done or stop is called. Without a broadcaster it is a no-op.
func (c *Cache) ListenRemote(ctx context.Context) (stop func() error, err error) {
	if c.broadcaster == nil {
		return func() error { return nil }, nil
	}
	return c.broadcaster.Listen(ctx, func(inv Invalidation) {
		applyCtx := context.WithoutCancel(ctx)
		var err error
		if inv.All {
			err = c.invalidateAllLocal(applyCtx, "remote")
		} else if len(inv.PrincipalIDs) > 0 {
			err = c.invalidateLocal(applyCtx, inv.PrincipalIDs, "remote")
		}
		if err != nil {
			c.logger.WithError(err).WithField("origin", inv.Origin).Warn("failed to apply remote invalidation")
		}
	})
}
