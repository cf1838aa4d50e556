package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/config"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/telemetry"
)

// State is the connection lifecycle of a Client.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrDisabled is the connect error of a client configured with backend "none".
var ErrDisabled = errors.New("cache disabled")

// Dialer opens a backend. It must honour ctx for its connect timeout.
type Dialer func(ctx context.Context) (Backend, error)

// Options tune a Client.
type Options struct {
	TTL         time.Duration
	DialTimeout time.Duration
	Metrics     *telemetry.CacheMetrics
}

// Client owns the process-wide cache handle. It connects once; a failed
// connect leaves it Unavailable until Reconnect is called. All read and
// invalidate paths check IsAvailable and fall through to the store otherwise.
type Client struct {
	dial    Dialer
	ttl     time.Duration
	timeout time.Duration
	metrics *telemetry.CacheMetrics

	mu       sync.Mutex // serializes Connect, Reconnect and Close
	attempts int        // connects dialed so far, guarded by mu
	state    atomic.Int32
	backend atomic.Pointer[backendRef]
	lastErr atomic.Pointer[string]
}

type backendRef struct {
	Backend
}

// New builds a client for the configured backend.
func New(cfg config.CacheConfig, metrics *telemetry.CacheMetrics) *Client {
	return NewWithDialer(DialerFor(cfg), Options{
		TTL:         cfg.TTL,
		DialTimeout: cfg.DialTimeout,
		Metrics:     metrics,
	})
}

// NewWithDialer builds a client around an arbitrary dialer. A nil dialer
// yields a permanently disabled client.
func NewWithDialer(dial Dialer, opts Options) *Client {
	if opts.TTL <= 0 {
		opts.TTL = 300 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &Client{
		dial:    dial,
		ttl:     opts.TTL,
		timeout: opts.DialTimeout,
		metrics: opts.Metrics,
	}
}

// DialerFor returns the dialer for cfg.Backend, or nil for "none".
func DialerFor(cfg config.CacheConfig) Dialer {
	switch cfg.Backend {
	case config.CacheBackendRedis:
		return func(ctx context.Context) (Backend, error) {
			return NewRedisBackend(ctx, cfg.RedisURL, cfg.DialTimeout)
		}
	case config.CacheBackendMemory:
		return func(context.Context) (Backend, error) {
			return NewMemoryBackend(cfg.MemorySize, cfg.TTL), nil
		}
	default:
		return nil
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	if c == nil {
		return StateUnavailable
	}
	return State(c.state.Load())
}

// IsAvailable reports whether reads and invalidations reach the backend.
func (c *Client) IsAvailable() bool {
	return c.State() == StateReady
}

// TTL returns the expiry applied to stored entries.
func (c *Client) TTL() time.Duration { return c.ttl }

// Connect performs the one-shot connect. Later calls return the outcome of
// the first attempt without dialing again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateReady:
		return nil
	case StateUnavailable:
		return c.err()
	}
	return c.connectLocked(ctx)
}

// Reconnect drops the current backend, if any, and dials again regardless
// of the previous outcome.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	log.Printf("INFO: cache reconnect requested")
	return c.connectLocked(ctx)
}

// Close releases the backend and marks the client Unavailable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.closeLocked()
	c.setErr("cache closed")
	c.state.Store(int32(StateUnavailable))
	return err
}

// connectLocked dials the backend. Every connect after the first purges all
// families before going Ready: invalidations skipped while the client was
// not Ready may have left entries a shared backend still holds.
func (c *Client) connectLocked(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))
	c.attempts++

	if c.dial == nil {
		c.setErr(ErrDisabled.Error())
		c.state.Store(int32(StateUnavailable))
		log.Printf("INFO: cache disabled, serving every read from the store")
		return ErrDisabled
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b, err := c.dial(dialCtx)
	if err != nil {
		c.setErr(err.Error())
		c.state.Store(int32(StateUnavailable))
		log.Printf("WARNING: cache unavailable, continuing uncached: %v", err)
		return fmt.Errorf("connect cache: %w", err)
	}

	if c.attempts > 1 {
		var purged int
		for _, family := range Families {
			keys, err := b.DeletePrefix(dialCtx, family.Prefix())
			if err != nil {
				_ = b.Close()
				c.setErr(err.Error())
				c.state.Store(int32(StateUnavailable))
				log.Printf("WARNING: cache unavailable, purge after reconnect failed: %v", err)
				return fmt.Errorf("purge cache on reconnect: %w", err)
			}
			purged += len(keys)
		}
		log.Printf("INFO: cache purged %d key(s) on reconnect", purged)
	}

	c.backend.Store(&backendRef{b})
	c.lastErr.Store(nil)
	c.state.Store(int32(StateReady))
	log.Printf("INFO: cache connected (backend=%s, ttl=%s)", b.Name(), c.ttl)
	return nil
}

func (c *Client) closeLocked() error {
	ref := c.backend.Swap(nil)
	if ref == nil {
		return nil
	}
	if err := ref.Close(); err != nil {
		return fmt.Errorf("close cache backend: %w", err)
	}
	return nil
}

func (c *Client) setErr(msg string) { c.lastErr.Store(&msg) }

func (c *Client) err() error {
	if msg := c.lastErr.Load(); msg != nil {
		return fmt.Errorf("cache unavailable: %s", *msg)
	}
	return errors.New("cache unavailable")
}

// ready returns the backend when the client is Ready, nil otherwise.
func (c *Client) ready() Backend {
	if !c.IsAvailable() {
		return nil
	}
	ref := c.backend.Load()
	if ref == nil {
		return nil
	}
	return ref.Backend
}

// degraded logs a failed cache operation. The operation is skipped; the
// store result stands.
func (c *Client) degraded(ctx context.Context, op, subject string, err error) {
	log.Printf("WARNING: cache degraded: %s %s: %v", op, subject, err)
	c.metrics.RecordDegraded(ctx, op)
}

// Invalidate clears every key of the given families and returns the cleared
// keys. It is a no-op returning nil when the client is not Ready.
func (c *Client) Invalidate(ctx context.Context, families ...Family) ([]string, error) {
	b := c.ready()
	if b == nil {
		return nil, nil
	}

	var (
		cleared []string
		errs    []error
	)
	for _, family := range families {
		keys, err := b.DeletePrefix(ctx, family.Prefix())
		cleared = append(cleared, keys...)
		c.metrics.RecordInvalidation(ctx, string(family), len(keys))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", family, err))
		}
	}
	return cleared, errors.Join(errs...)
}

// Flush clears every family. Correctness never depends on it.
func (c *Client) Flush(ctx context.Context) ([]string, error) {
	if !c.IsAvailable() {
		return nil, c.err()
	}
	cleared, err := c.Invalidate(ctx, Families...)
	if err != nil {
		c.degraded(ctx, "flush", "all families", err)
		return cleared, err
	}
	log.Printf("INFO: cache flushed, %d key(s) cleared", len(cleared))
	return cleared, nil
}

// Snapshot describes the client for the admin status view.
type Snapshot struct {
	State     string `json:"state"`
	Backend   string `json:"backend,omitempty"`
	TTL       string `json:"ttl"`
	LastError string `json:"lastError,omitempty"`
}

// Status returns a point-in-time Snapshot.
func (c *Client) Status() Snapshot {
	snap := Snapshot{State: c.State().String(), TTL: c.ttl.String()}
	if ref := c.backend.Load(); ref != nil {
		snap.Backend = ref.Name()
	}
	if msg := c.lastErr.Load(); msg != nil {
		snap.LastError = *msg
	}
	return snap
}
