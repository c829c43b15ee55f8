// Package permcache memoizes resolved permission bundles per principal.
//
// A Bundle holds a principal's effective permission codes, role codes and
// compiled row scopes. Cache.GetOrResolve returns the stored bundle or calls
// the Builder, making sure concurrent misses for one principal share a single
// resolution:
//
//	cache := permcache.New(builder, permcache.Options{
//		Storage:      permcache.NewMemoryStorage(10000, 10*time.Minute),
//		BuildTimeout: 5 * time.Second,
//		Metrics:      permcache.NewMetrics(registry),
//	}, logger)
//
//	bundle, err := cache.GetOrResolve(ctx, principal)
//
// Invalidate and InvalidateAll drop bundles after role, rule or department
// changes. A resolution that was running when an invalidation arrived is
// handed to its callers but not stored, so the next call resolves again.
//
// Storage is pluggable: MemoryStorage (expirable LRU) for a single instance,
// RedisStorage to share bundles. With several instances, a Broadcaster
// carries invalidations over Redis pub/sub; call ListenRemote at startup.
package permcache
