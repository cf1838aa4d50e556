package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/config"
)

// flakyBackend wraps a MemoryBackend and fails every call while down is set.
type flakyBackend struct {
	*MemoryBackend
	down bool
}

var errDown = errors.New("connection refused")

func (b *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b.down {
		return nil, false, errDown
	}
	return b.MemoryBackend.Get(ctx, key)
}

func (b *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.down {
		return errDown
	}
	return b.MemoryBackend.Set(ctx, key, value, ttl)
}

func (b *flakyBackend) DeletePrefix(ctx context.Context, prefix string) ([]string, error) {
	if b.down {
		return nil, errDown
	}
	return b.MemoryBackend.DeletePrefix(ctx, prefix)
}

func newMemoryClient(t *testing.T) (*Client, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend(128, time.Minute)
	c := NewWithDialer(func(context.Context) (Backend, error) { return backend, nil }, Options{})
	require.NoError(t, c.Connect(context.Background()))
	return c, backend
}

func TestClient_Lifecycle(t *testing.T) {
	dials := 0
	c := NewWithDialer(func(context.Context) (Backend, error) {
		dials++
		return NewMemoryBackend(8, time.Minute), nil
	}, Options{})

	assert.Equal(t, StateUninitialized, c.State())
	assert.False(t, c.IsAvailable())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.True(t, c.IsAvailable())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, dials, "connect is one-shot")

	require.NoError(t, c.Close())
	assert.Equal(t, StateUnavailable, c.State())
}

func TestClient_FailedConnectIsSticky(t *testing.T) {
	fail := true
	dials := 0
	c := NewWithDialer(func(context.Context) (Backend, error) {
		dials++
		if fail {
			return nil, errDown
		}
		return NewMemoryBackend(8, time.Minute), nil
	}, Options{})

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, StateUnavailable, c.State())
	assert.Contains(t, c.Status().LastError, "connection refused")

	// the backend recovering does not change anything until Reconnect
	fail = false
	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, 1, dials)
	assert.False(t, c.IsAvailable())

	require.NoError(t, c.Reconnect(context.Background()))
	assert.True(t, c.IsAvailable())
	assert.Equal(t, 2, dials)
	assert.Empty(t, c.Status().LastError)
	assert.Equal(t, "memory", c.Status().Backend)
}

// serverBackend keeps its entries across Close, the way a redis server
// outlives the connections to it.
type serverBackend struct {
	*MemoryBackend
}

func (serverBackend) Close() error { return nil }

func TestClient_ReconnectPurgesSharedBackend(t *testing.T) {
	ctx := context.Background()
	shared := serverBackend{NewMemoryBackend(16, time.Minute)}
	c := NewWithDialer(func(context.Context) (Backend, error) { return shared, nil }, Options{})
	require.NoError(t, c.Connect(ctx))

	for _, key := range []string{AccountKey("a1"), SystemsActiveKey(""), GrantsAllKey()} {
		require.NoError(t, shared.Set(ctx, key, []byte("{}"), 0))
	}
	require.NoError(t, c.Reconnect(ctx))
	assert.True(t, c.IsAvailable())
	assert.Equal(t, 0, shared.Len())
}

func TestClient_ReconnectPurgeFailureLeavesUnavailable(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(16, time.Minute)}
	c := NewWithDialer(func(context.Context) (Backend, error) { return backend, nil }, Options{})
	require.NoError(t, c.Connect(ctx))

	backend.down = true
	err := c.Reconnect(ctx)
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, StateUnavailable, c.State())
	assert.Contains(t, c.Status().LastError, "connection refused")
}

func TestClient_DialHonoursTimeout(t *testing.T) {
	c := NewWithDialer(func(ctx context.Context) (Backend, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{DialTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateUnavailable, c.State())
}

func TestClient_Disabled(t *testing.T) {
	c := New(config.CacheConfig{Backend: config.CacheBackendNone, TTL: time.Minute}, nil)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, StateUnavailable, c.State())

	cleared, err := c.Invalidate(context.Background(), FamilyAccounts)
	require.NoError(t, err)
	assert.Nil(t, cleared)

	_, err = c.Flush(context.Background())
	assert.Error(t, err)
}

func TestClient_InvalidateAndFlush(t *testing.T) {
	c, backend := newMemoryClient(t)
	ctx := context.Background()

	for _, key := range []string{AccountsActiveKey(""), AccountKey("a1"), SystemsActiveKey(""), GrantsAllKey()} {
		require.NoError(t, backend.Set(ctx, key, []byte("[]"), 0))
	}

	cleared, err := c.Invalidate(ctx, FamilyAccounts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"accounts:list:active", "accounts:id:a1"}, cleared)
	assert.Equal(t, 2, backend.Len())

	cleared, err = c.Flush(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"systems:list:active", "grants:list:all"}, cleared)
	assert.Equal(t, 0, backend.Len())
}

func TestDialerFor(t *testing.T) {
	assert.Nil(t, DialerFor(config.CacheConfig{Backend: config.CacheBackendNone}))
	assert.NotNil(t, DialerFor(config.CacheConfig{Backend: config.CacheBackendMemory}))
	assert.NotNil(t, DialerFor(config.CacheConfig{Backend: config.CacheBackendRedis}))
}
