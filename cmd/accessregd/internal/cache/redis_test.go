package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/config"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

func newRedisClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(config.CacheConfig{
		Backend:     config.CacheBackendRedis,
		RedisURL:    "redis://" + mr.Addr() + "/0",
		TTL:         300 * time.Second,
		DialTimeout: time.Second,
	}, nil)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisBackend_FetchStoresWithTTL(t *testing.T) {
	c, mr := newRedisClient(t)
	ctx := context.Background()

	_, payload, status, err := Fetch(ctx, c, SystemsActiveKey(""), func(context.Context) ([]item, error) {
		return []item{{ID: "s1", Name: "billing"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)

	stored, err := mr.Get("systems:list:active")
	require.NoError(t, err)
	assert.Equal(t, string(payload), stored)
	assert.Equal(t, 300*time.Second, mr.TTL("systems:list:active"))

	_, _, status, err = Fetch(ctx, c, SystemsActiveKey(""), func(context.Context) ([]item, error) {
		t.Fatal("loader must not run on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusHit, status)

	mr.FastForward(301 * time.Second)
	_, _, status, err = Fetch(ctx, c, SystemsActiveKey(""), func(context.Context) ([]item, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
}

func TestRedisBackend_DeletePrefix(t *testing.T) {
	c, mr := newRedisClient(t)
	ctx := context.Background()

	for i := 0; i < scanBatch+5; i++ {
		require.NoError(t, mr.Set(AccountKey(strconv.Itoa(i)), "{}"))
	}
	require.NoError(t, mr.Set(SystemKey("s1"), "{}"))

	cleared, err := c.Invalidate(ctx, FamilyAccounts)
	require.NoError(t, err)
	assert.Len(t, cleared, scanBatch+5)
	assert.True(t, mr.Exists("systems:id:s1"))
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisBackend_ServerGoesAway(t *testing.T) {
	c, mr := newRedisClient(t)
	mr.Close()

	v, _, status, err := Fetch(context.Background(), c, GrantsActiveKey(), func(context.Context) ([]item, error) {
		return []item{{ID: "g1"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBypass, status)
	assert.Len(t, v, 1)

	_, err = c.Invalidate(context.Background(), FamilyGrants)
	assert.Error(t, err)
}

func TestRedisBackend_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := New(config.CacheConfig{
		Backend:     config.CacheBackendRedis,
		RedisURL:    "redis://" + addr,
		TTL:         time.Minute,
		DialTimeout: 200 * time.Millisecond,
	}, nil)
	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StateUnavailable, c.State())

	require.NoError(t, mr.Restart())
	require.NoError(t, c.Reconnect(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, "redis", c.Status().Backend)
}

func TestRedisBackend_ReconnectDropsEntriesMissedWhileDown(t *testing.T) {
	c, mr := newRedisClient(t)
	ctx := context.Background()

	_, _, status, err := Fetch(ctx, c, AccountKey("a1"), func(context.Context) (item, error) {
		return item{ID: "a1", Name: "v1"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)

	mr.Close()
	require.Error(t, c.Reconnect(ctx))
	assert.Equal(t, StateUnavailable, c.State())

	// the account is renamed while the cache is down; its invalidation is skipped
	assert.Nil(t, DefaultHooks().AfterCommit(ctx, c, domain.EntityAccount, "update"))

	require.NoError(t, mr.Restart())
	require.True(t, mr.Exists("accounts:id:a1"), "restart keeps the old entry")
	require.NoError(t, c.Reconnect(ctx))
	assert.False(t, mr.Exists("accounts:id:a1"))

	v, _, status, err := Fetch(ctx, c, AccountKey("a1"), func(context.Context) (item, error) {
		return item{ID: "a1", Name: "v2"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, "v2", v.Name)
}

func TestRedisBackend_FillRacingInvalidationExpiresWithTTL(t *testing.T) {
	c, mr := newRedisClient(t)
	ctx := context.Background()

	_, _, status, err := Fetch(ctx, c, AccountKey("a1"), func(ctx context.Context) (item, error) {
		// a rename commits and invalidates while this load is in flight
		_, err := c.Invalidate(ctx, FamilyAccounts)
		return item{ID: "a1", Name: "old"}, err
	})
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)

	v, _, status, err := Fetch(ctx, c, AccountKey("a1"), func(context.Context) (item, error) {
		return item{ID: "a1", Name: "new"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusHit, status)
	assert.Equal(t, "old", v.Name)

	mr.FastForward(c.TTL() + time.Second)
	v, _, status, err = Fetch(ctx, c, AccountKey("a1"), func(context.Context) (item, error) {
		return item{ID: "a1", Name: "new"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, "new", v.Name)
}

func TestNewRedisBackend_BadURL(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), "not-a-url", time.Second)
	assert.Error(t, err)
}
