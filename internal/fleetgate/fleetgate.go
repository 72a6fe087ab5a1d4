// Package fleetgate consults a fleet-wide Redis maintenance flag before a
// device hibernates, alongside the mandatory update-engine gate. Unlike
// that gate, fleetgate is fail-open: any Redis problem (unset URL,
// connection refused, timeout) means the fleet-wide check is unavailable,
// and hibernation proceeds rather than block on a convenience check.
package fleetgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maintenanceKeyPrefix = "hiberman:maintenance:"

// Gate checks whether a fleet-wide maintenance freeze is active.
type Gate struct {
	rdb     *redis.Client
	timeout time.Duration
}

// Open connects to Redis. A nil Gate (with a nil error) is never returned;
// callers that want fail-open behavior on a missing redisURL should skip
// calling Open entirely and use a nil *Gate, which Allowed treats as open.
func Open(redisURL string) (*Gate, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("fleetgate: invalid redis URL: %w", err)
	}
	return &Gate{rdb: redis.NewClient(opts), timeout: 3 * time.Second}, nil
}

// Close releases the Redis connection.
func (g *Gate) Close() error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}

// Allowed reports whether hibernation may proceed for fleetID. A nil Gate,
// or any Redis error, fails open (true) — the maintenance gate is a
// convenience, not a safety invariant.
func (g *Gate) Allowed(ctx context.Context, fleetID string) bool {
	if g == nil || g.rdb == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	exists, err := g.rdb.Exists(ctx, maintenanceKeyPrefix+fleetID).Result()
	if err != nil {
		return true
	}
	return exists == 0
}

// SetMaintenance raises or clears the maintenance flag for a fleet,
// expiring automatically after ttl so a crashed operator tool can't wedge
// a fleet in permanent maintenance.
func (g *Gate) SetMaintenance(ctx context.Context, fleetID string, active bool, ttl time.Duration) error {
	key := maintenanceKeyPrefix + fleetID
	if !active {
		return g.rdb.Del(ctx, key).Err()
	}
	return g.rdb.Set(ctx, key, "1", ttl).Err()
}
