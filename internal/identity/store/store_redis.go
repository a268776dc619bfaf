package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"aeroinsight/internal/identity/models"
)

const profileKeyPrefix = "aeroinsight:profile:"

// Backing is the source of truth behind the cache.
type Backing interface {
	FindByUID(ctx context.Context, uid string) (*models.Profile, error)
}

// Cached is a Redis read-through cache in front of a Backing store. Redis
// errors are logged and the lookup falls through; absent profiles are never
// cached so newly provisioned users resolve immediately.
type Cached struct {
	client  *redis.Client
	backing Backing
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCached wraps backing with a cache of the given TTL.
func NewCached(client *redis.Client, backing Backing, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{client: client, backing: backing, ttl: ttl, logger: logger}
}

func (c *Cached) FindByUID(ctx context.Context, uid string) (*models.Profile, error) {
	key := profileKeyPrefix + uid
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p models.Profile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return &p, nil
		}
		c.logger.WarnContext(ctx, "discarding malformed cached profile", "uid", uid)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "profile cache read failed", "uid", uid, "error", err)
	}

	p, err := c.backing.FindByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if encoded, jsonErr := json.Marshal(p); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, encoded, c.ttl).Err(); setErr != nil {
			c.logger.WarnContext(ctx, "profile cache write failed", "uid", uid, "error", setErr)
		}
	}
	return p, nil
}

// Invalidate drops the cached entry for uid.
func (c *Cached) Invalidate(ctx context.Context, uid string) error {
	return c.client.Del(ctx, profileKeyPrefix+uid).Err()
}
