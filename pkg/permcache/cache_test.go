package permcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezeboot/breeze/pkg/accesserr"
	"github.com/breezeboot/breeze/pkg/auth"
)

// fakeBuilder counts builds. When gate is set, each build signals started
// and waits for gate to close.
type fakeBuilder struct {
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
	err     error
	codes   []string
}

func (f *fakeBuilder) Build(ctx context.Context, p *auth.Principal) (*Bundle, error) {
	f.calls.Add(1)
	if f.gate != nil {
		f.started <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, accesserr.Unavailable(ctx.Err(), "build abandoned")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	codes := f.codes
	if codes == nil {
		codes = []string{"user:read"}
	}
	return NewBundle(p, codeSet(codes...), nil, nil), nil
}

func gatedBuilder() *fakeBuilder {
	return &fakeBuilder{started: make(chan struct{}, 100), gate: make(chan struct{})}
}

func newTestCache(t *testing.T, b Builder, opts Options) (*Cache, *MemoryStorage) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	storage := NewMemoryStorage(100, 0)
	if opts.Storage == nil {
		opts.Storage = storage
	}
	return New(b, opts, logger), storage
}

func TestGetOrResolve_CachesBundle(t *testing.T) {
	builder := &fakeBuilder{}
	metrics := NewMetrics(prometheus.NewRegistry())
	cache, _ := newTestCache(t, builder, Options{Metrics: metrics})
	p := &auth.Principal{ID: 1}

	first, err := cache.GetOrResolve(context.Background(), p)
	require.NoError(t, err)
	second, err := cache.GetOrResolve(context.Background(), p)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), builder.calls.Load())
	assert.Equal(t, uint64(1), first.Generation)
	assert.False(t, first.CachedAt.IsZero())
	assert.True(t, first.Has("user:read"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HitsTotal.WithLabelValues("memory")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MissesTotal.WithLabelValues("memory")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResolutionsTotal))
}

func TestGetOrResolve_NilPrincipal(t *testing.T) {
	cache, _ := newTestCache(t, &fakeBuilder{}, Options{})
	_, err := cache.GetOrResolve(context.Background(), nil)
	assert.True(t, errors.Is(err, accesserr.ErrAuthenticationRequired))
}

func TestGetOrResolve_ConcurrentMissesResolveOnce(t *testing.T) {
	builder := gatedBuilder()
	cache, _ := newTestCache(t, builder, Options{})
	p := &auth.Principal{ID: 42}

	const callers = 50
	var wg sync.WaitGroup
	results := make([]*Bundle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrResolve(context.Background(), p)
		}(i)
	}

	<-builder.started
	// give the remaining callers time to join the flight
	time.Sleep(20 * time.Millisecond)
	close(builder.gate)
	wg.Wait()

	assert.Equal(t, int32(1), builder.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Generation, results[i].Generation)
	}
}

func TestGetOrResolve_DistinctPrincipalsResolveIndependently(t *testing.T) {
	builder := &fakeBuilder{}
	cache, storage := newTestCache(t, builder, Options{})

	for id := int64(1); id <= 3; id++ {
		_, err := cache.GetOrResolve(context.Background(), &auth.Principal{ID: id})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), builder.calls.Load())
	assert.Equal(t, 3, storage.Len())
	assert.Equal(t, uint64(3), cache.Generation())
}

func TestInvalidate_ForcesResolution(t *testing.T) {
	builder := &fakeBuilder{}
	cache, storage := newTestCache(t, builder, Options{})
	p := &auth.Principal{ID: 1}
	ctx := context.Background()

	first, err := cache.GetOrResolve(ctx, p)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, 1))
	assert.Equal(t, 0, storage.Len())

	builder.codes = []string{"user:read", "user:write"}
	second, err := cache.GetOrResolve(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, int32(2), builder.calls.Load())
	assert.Greater(t, second.Generation, first.Generation)
	assert.True(t, second.Has("user:write"))
}

func TestInvalidateAll(t *testing.T) {
	builder := &fakeBuilder{}
	metrics := NewMetrics(prometheus.NewRegistry())
	cache, storage := newTestCache(t, builder, Options{Metrics: metrics})
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		_, err := cache.GetOrResolve(ctx, &auth.Principal{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, cache.InvalidateAll(ctx))

	assert.Equal(t, 0, storage.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InvalidationsTotal.WithLabelValues("all", "local")))
}

func TestInvalidate_DuringResolutionIsNotCached(t *testing.T) {
	for _, all := range []bool{false, true} {
		builder := gatedBuilder()
		cache, storage := newTestCache(t, builder, Options{})
		p := &auth.Principal{ID: 5}
		ctx := context.Background()

		done := make(chan *Bundle, 1)
		go func() {
			b, err := cache.GetOrResolve(ctx, p)
			assert.NoError(t, err)
			done <- b
		}()

		<-builder.started
		if all {
			require.NoError(t, cache.InvalidateAll(ctx))
		} else {
			require.NoError(t, cache.Invalidate(ctx, 5))
		}
		close(builder.gate)

		b := <-done
		require.NotNil(t, b, "the in-flight caller still receives the result")
		assert.Equal(t, 0, storage.Len(), "result resolved before the invalidation is not stored")

		builder.gate = nil
		_, err := cache.GetOrResolve(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int32(2), builder.calls.Load())
		assert.Equal(t, 1, storage.Len())
	}
}

// versionedBuilder grants "v<N>" for the data version seen when a build
// starts. Only the first build blocks, until release is closed.
type versionedBuilder struct {
	version atomic.Int32
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (v *versionedBuilder) Build(_ context.Context, p *auth.Principal) (*Bundle, error) {
	n := v.calls.Add(1)
	code := fmt.Sprintf("v%d", v.version.Load())
	if n == 1 {
		v.started <- struct{}{}
		<-v.release
	}
	return NewBundle(p, codeSet(code), nil, nil), nil
}

func TestInvalidate_LaterCallerDoesNotJoinStaleFlight(t *testing.T) {
	for _, all := range []bool{false, true} {
		builder := &versionedBuilder{started: make(chan struct{}, 1), release: make(chan struct{})}
		builder.version.Store(1)
		cache, storage := newTestCache(t, builder, Options{})
		p := &auth.Principal{ID: 7}
		ctx := context.Background()

		done := make(chan *Bundle, 1)
		go func() {
			b, err := cache.GetOrResolve(ctx, p)
			assert.NoError(t, err)
			done <- b
		}()
		<-builder.started

		builder.version.Store(2)
		if all {
			require.NoError(t, cache.InvalidateAll(ctx))
		} else {
			require.NoError(t, cache.Invalidate(ctx, 7))
		}

		// returns without waiting for the blocked first build
		fresh, err := cache.GetOrResolve(ctx, p)
		require.NoError(t, err)
		assert.True(t, fresh.Has("v2"), "caller after the invalidation sees the new grants")
		assert.False(t, fresh.Has("v1"))

		close(builder.release)
		old := <-done
		require.NotNil(t, old)
		assert.True(t, old.Has("v1"), "caller already waiting keeps the old result")
		assert.Equal(t, int32(2), builder.calls.Load())

		cached, ok, err := storage.Get(ctx, 7)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, cached.Has("v2"), "the stale flight must not overwrite the fresh bundle")
		assert.Equal(t, 1, storage.Len())
	}
}

func TestInvalidate_OtherPrincipalDoesNotAffectFlight(t *testing.T) {
	builder := gatedBuilder()
	cache, storage := newTestCache(t, builder, Options{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.GetOrResolve(ctx, &auth.Principal{ID: 5})
		assert.NoError(t, err)
	}()

	<-builder.started
	require.NoError(t, cache.Invalidate(ctx, 6))
	close(builder.gate)
	<-done

	assert.Equal(t, 1, storage.Len())
}

func TestGetOrResolve_BuildError(t *testing.T) {
	builder := &fakeBuilder{err: accesserr.Unavailable(errors.New("connection refused"), "load roles")}
	metrics := NewMetrics(prometheus.NewRegistry())
	cache, storage := newTestCache(t, builder, Options{Metrics: metrics})

	_, err := cache.GetOrResolve(context.Background(), &auth.Principal{ID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))
	assert.Equal(t, 0, storage.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResolutionErrorsTotal))

	// errors are not cached
	_, _ = cache.GetOrResolve(context.Background(), &auth.Principal{ID: 1})
	assert.Equal(t, int32(2), builder.calls.Load())
}

func TestGetOrResolve_CallerCancellationDoesNotAbortResolution(t *testing.T) {
	builder := gatedBuilder()
	cache, storage := newTestCache(t, builder, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cache.GetOrResolve(ctx, &auth.Principal{ID: 9})
		errCh <- err
	}()

	<-builder.started
	cancel()
	err := <-errCh
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))

	close(builder.gate)
	require.Eventually(t, func() bool { return storage.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestGetOrResolve_BuildTimeout(t *testing.T) {
	builder := gatedBuilder()
	cache, _ := newTestCache(t, builder, Options{BuildTimeout: 20 * time.Millisecond})

	_, err := cache.GetOrResolve(context.Background(), &auth.Principal{ID: 1})
	require.Error(t, err)
	assert.True(t, accesserr.IsRetryable(err))
}

type failingStorage struct {
	*MemoryStorage
}

func (failingStorage) Get(context.Context, int64) (*Bundle, bool, error) {
	return nil, false, errors.New("storage down")
}

func (failingStorage) Delete(context.Context, ...int64) error {
	return errors.New("storage down")
}

func TestGetOrResolve_StorageReadFailureResolves(t *testing.T) {
	builder := &fakeBuilder{}
	metrics := NewMetrics(prometheus.NewRegistry())
	cache, _ := newTestCache(t, builder, Options{
		Storage: failingStorage{NewMemoryStorage(10, 0)},
		Metrics: metrics,
	})

	b, err := cache.GetOrResolve(context.Background(), &auth.Principal{ID: 1})
	require.NoError(t, err)
	assert.True(t, b.Has("user:read"))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.StorageErrorsTotal.WithLabelValues("memory", "get")))

	err = cache.Invalidate(context.Background(), 1)
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))
}

func TestMemoryStorage_TTL(t *testing.T) {
	storage := NewMemoryStorage(10, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, storage.Set(ctx, NewBundle(&auth.Principal{ID: 1}, nil, nil, nil)))
	_, ok, _ := storage.Get(ctx, 1)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, _ := storage.Get(ctx, 1)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStorage_Eviction(t *testing.T) {
	storage := NewMemoryStorage(2, 0)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, storage.Set(ctx, NewBundle(&auth.Principal{ID: id}, nil, nil, nil)))
	}
	assert.Equal(t, 2, storage.Len())
	_, ok, _ := storage.Get(ctx, 1)
	assert.False(t, ok)
}
