package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status tells the caller where a read was served from.
type Status string

const (
	StatusHit  Status = "HIT"
	StatusMiss Status = "MISS"
	// StatusBypass means the cache was not consulted; no indicator is exposed.
	StatusBypass Status = "BYPASS"
)

// Fetch serves key from the cache, or runs load and stores its JSON
// encoding for the client's TTL. It returns the decoded value together with
// the exact payload bytes so a hit can be written out verbatim.
//
// Cache errors never fail the read: they are logged and the call degrades to
// a direct load with StatusBypass. Only load and encoding errors are returned.
func Fetch[T any](ctx context.Context, c *Client, key string, load func(context.Context) (T, error)) (T, []byte, Status, error) {
	var zero T
	family := string(FamilyOf(key))

	b := c.ready()
	if b != nil {
		data, ok, err := b.Get(ctx, key)
		switch {
		case err != nil:
			c.degraded(ctx, "get", key, err)
			b = nil
		case ok:
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				c.degraded(ctx, "decode", key, err)
				break
			}
			c.metrics.RecordLookup(ctx, family, string(StatusHit))
			return v, data, StatusHit, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return zero, nil, "", err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return zero, nil, "", fmt.Errorf("encode %s: %w", key, err)
	}

	if b == nil {
		if c != nil {
			c.metrics.RecordLookup(ctx, family, string(StatusBypass))
		}
		return v, payload, StatusBypass, nil
	}
	// An invalidation that ran during load does not cover this entry; the TTL
	// bounds how long it can be stale.
	if err := b.Set(ctx, key, payload, c.ttl); err != nil {
		c.degraded(ctx, "set", key, err)
	}
	c.metrics.RecordLookup(ctx, family, string(StatusMiss))
	return v, payload, StatusMiss, nil
}
