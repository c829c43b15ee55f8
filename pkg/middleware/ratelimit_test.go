package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezeboot/breeze/pkg/auth"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour, BurstSize: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := rl.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "b")
	assert.True(t, ok, "keys are independent")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Millisecond})
	_, _ = rl.Allow(context.Background(), "a")
	time.Sleep(5 * time.Millisecond)

	rl.Cleanup()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.buckets)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "principal:7")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "principal:7")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, mr.TTL("breeze:ratelimit:principal:7"), time.Duration(0))

	mr.FastForward(time.Minute)
	ok, err = rl.Allow(ctx, "principal:7")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")

	require.NoError(t, rl.Reset(ctx, "principal:7"))
	assert.False(t, mr.Exists("breeze:ratelimit:principal:7"))
}

func TestRateLimitMiddleware(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	h := RateLimit(rl, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(p *auth.Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if p != nil {
			req = req.WithContext(auth.WithPrincipal(req.Context(), p))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, serve(nil).Code)
	rec := serve(nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(&auth.Principal{ID: 7}).Code, "principals have their own bucket")
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	logger, hook := test.NewNullLogger()
	h := RateLimit(NewDistributedRateLimiter(client, nil, ""), logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, hook.LastEntry())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
