package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/uptrace/bun"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/cache"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/config"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/db/bunx"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/migrations"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/repository"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/registry"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/telemetry"
)

// RegistryOptions controls how the CLI constructs the registry service.
type RegistryOptions struct {
	// Migrate brings the schema up to date before the service is returned.
	Migrate bool

	// CacheMetrics is handed to the cache client; nil disables cache metrics.
	CacheMetrics *telemetry.CacheMetrics
}

// RegistryBundle bundles the service with the resources it owns so callers
// can release them together.
type RegistryBundle struct {
	Service *registry.Service
	Cache   *cache.Client
	DB      *bun.DB

	// CacheBackend is the configured backend name.
	CacheBackend string
}

// SharedCache reports whether the cache is one other processes read from.
// Invalidations from a memory or disabled cache never reach a running server.
func (b *RegistryBundle) SharedCache() bool {
	return b != nil && b.CacheBackend == config.CacheBackendRedis
}

// Close releases the cache connection and the database.
func (b *RegistryBundle) Close() {
	if b == nil {
		return
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			log.Printf("WARNING: failed to close cache: %v", err)
		}
	}
	if b.DB != nil {
		if err := bunx.Close(b.DB); err != nil {
			log.Printf("WARNING: failed to close database: %v", err)
		}
	}
}

// NewRegistryBundle centralizes registry construction for the server and the
// CLI commands. A cache that cannot be reached is logged and left
// Unavailable; the service then reads straight from the database.
func NewRegistryBundle(ctx context.Context, cfg *config.Config, opts RegistryOptions) (*RegistryBundle, error) {
	db, err := bunx.Open(ctx, bunx.Options{DSN: cfg.DatabaseURL, MaxConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.Migrate {
		if err := migrations.Bootstrap(ctx, db); err != nil {
			_ = bunx.Close(db)
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	client := cache.New(cfg.Cache, opts.CacheMetrics)
	if err := client.Connect(ctx); err != nil && !errors.Is(err, cache.ErrDisabled) {
		log.Printf("WARNING: cache %s unavailable, serving from database: %v", cfg.Cache.Backend, err)
	}

	svc := registry.NewService(repository.NewBunStore(db), client, registry.Options{
		SystemRemovalPolicy: cfg.Registry.SystemRemovalPolicy,
	})

	return &RegistryBundle{Service: svc, Cache: client, DB: db, CacheBackend: cfg.Cache.Backend}, nil
}

// OpenRegistry loads the configuration and builds a bundle for a one-shot
// CLI command. The schema is migrated so commands work against a fresh
// database.
func OpenRegistry(ctx context.Context) (*RegistryBundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewRegistryBundle(ctx, cfg, RegistryOptions{Migrate: true})
}

// OpenRegistryForWrite is OpenRegistry for commands that mutate the registry.
// Without a shared cache the write cannot invalidate what a running server
// holds, so the operator is told how to clear it.
func OpenRegistryForWrite(ctx context.Context) (*RegistryBundle, error) {
	bundle, err := OpenRegistry(ctx)
	if err != nil {
		return nil, err
	}
	if !bundle.SharedCache() {
		log.Printf("WARNING: cache backend %q is local to this process; a running server's cache is not invalidated by this change, use POST /admin/cache/flush on the server", bundle.CacheBackend)
	}
	return bundle, nil
}

// RequireSharedCache rejects cache maintenance against a process-local cache,
// which would only ever act on the CLI's own empty cache.
func (b *RegistryBundle) RequireSharedCache() error {
	if !b.SharedCache() {
		return fmt.Errorf("cache backend %q is local to each process; use GET /admin/cache/status or POST /admin/cache/flush on the server", b.CacheBackend)
	}
	return nil
}
