package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezeboot/breeze/pkg/accesserr"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSessionStore_SaveLookupRevoke(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisSessionStore(client, time.Hour)
	ctx := context.Background()

	principal := &Principal{
		ID:              7,
		Username:        "alice",
		RoleCodes:       []string{"manager"},
		PermissionCodes: []string{"user:read"},
		DeptID:          int64Ptr(10),
	}

	token, err := store.Save(ctx, principal)
	require.NoError(t, err)
	assert.Contains(t, token, TokenPrefix)

	// only the hash is used as key
	key := sessionKeyPrefix + NewTokenGenerator().HashToken(token)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []string{"user:read"}, got.PermissionCodes)
	require.NotNil(t, got.DeptID)
	assert.Equal(t, int64(10), *got.DeptID)
	assert.False(t, got.IssuedAt.IsZero())

	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Lookup(ctx, token)
	assert.True(t, errors.Is(err, accesserr.ErrAuthenticationRequired))
}

func TestRedisSessionStore_Expired(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisSessionStore(client, time.Minute)
	ctx := context.Background()

	token, err := store.Save(ctx, &Principal{ID: 1})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Lookup(ctx, token)
	assert.True(t, errors.Is(err, accesserr.ErrAuthenticationRequired))
}

func TestRedisSessionStore_InvalidToken(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRedisSessionStore(client, time.Minute)

	_, err := store.Lookup(context.Background(), "not-a-token")
	assert.True(t, errors.Is(err, accesserr.ErrAuthenticationRequired))
}

func TestRedisSessionStore_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisSessionStore(client, time.Minute)
	ctx := context.Background()

	token, err := store.Save(ctx, &Principal{ID: 1})
	require.NoError(t, err)

	mr.Close()

	_, err = store.Lookup(ctx, token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, accesserr.ErrDependencyUnavailable))
	assert.True(t, accesserr.IsRetryable(err))
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	token, err := store.Save(ctx, &Principal{ID: 3, Username: "bob"})
	require.NoError(t, err)

	got, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)
	assert.Equal(t, now, got.IssuedAt)

	now = now.Add(2 * time.Minute)
	_, err = store.Lookup(ctx, token)
	assert.True(t, errors.Is(err, accesserr.ErrAuthenticationRequired))
}

func TestMemorySessionStore_Revoke(t *testing.T) {
	store := NewMemorySessionStore(0)
	ctx := context.Background()

	token, err := store.Save(ctx, &Principal{ID: 3})
	require.NoError(t, err)
	require.NoError(t, store.Revoke(ctx, token))

	_, err = store.Lookup(ctx, token)
	assert.True(t, errors.Is(err, accesserr.ErrAuthenticationRequired))
}

func TestMemorySessionStore_ReturnsCopy(t *testing.T) {
	store := NewMemorySessionStore(0)
	ctx := context.Background()

	token, err := store.Save(ctx, &Principal{ID: 3, Username: "bob"})
	require.NoError(t, err)

	first, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	first.Username = "mallory"

	second, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "bob", second.Username)
}
