package cache

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// DependencyMap declares which cached families embed data of each entity
// type. Account and grant views embed each other, and both embed system
// names, so a mutation clears every family that could show it.
var DependencyMap = map[string][]Family{
	domain.EntityAccount: {FamilyAccounts, FamilyGrants},
	domain.EntitySystem:  {FamilySystems, FamilyGrants, FamilyAccounts},
	domain.EntityGrant:   {FamilyGrants, FamilyAccounts},
}

// Hook runs after a mutation of its entity type has committed. It returns
// the cache keys it cleared.
type Hook struct {
	Name string
	Run  func(ctx context.Context, c *Client) ([]string, error)
}

// InvalidateHook returns a hook clearing one family.
func InvalidateHook(family Family) Hook {
	return Hook{
		Name: "invalidate " + string(family),
		Run: func(ctx context.Context, c *Client) ([]string, error) {
			return c.Invalidate(ctx, family)
		},
	}
}

// HookRegistry holds the ordered post-commit hooks per entity type.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[string][]Hook
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[string][]Hook)}
}

// DefaultHooks returns a registry with one invalidation hook per family in
// DependencyMap, in declared order.
func DefaultHooks() *HookRegistry {
	r := NewHookRegistry()
	for entity, families := range DependencyMap {
		for _, family := range families {
			r.Register(entity, InvalidateHook(family))
		}
	}
	return r
}

// Register appends a hook for an entity type.
func (r *HookRegistry) Register(entity string, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[entity] = append(r.hooks[entity], hook)
}

// Hooks returns a copy of the hooks registered for an entity type.
func (r *HookRegistry) Hooks(entity string) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hook(nil), r.hooks[entity]...)
}

// AfterCommit runs every hook for entity in order. A failing hook is logged
// as degraded and the remaining hooks still run; nothing is returned because
// the mutation has already committed.
func (r *HookRegistry) AfterCommit(ctx context.Context, c *Client, entity, mutation string) []string {
	if !c.IsAvailable() {
		if c != nil && c.dial != nil {
			c.degraded(ctx, "invalidate", fmt.Sprintf("after %s %s", mutation, entity),
				fmt.Errorf("cache %s, invalidation skipped", c.State()))
		}
		return nil
	}

	var cleared []string
	for _, hook := range r.Hooks(entity) {
		keys, err := hook.Run(ctx, c)
		cleared = append(cleared, keys...)
		if err != nil {
			c.degraded(ctx, "hook", fmt.Sprintf("%q after %s %s", hook.Name, mutation, entity), err)
		}
	}
	if len(cleared) > 0 {
		log.Printf("INFO: cache invalidated after %s %s: %v", mutation, entity, cleared)
	}
	return cleared
}
