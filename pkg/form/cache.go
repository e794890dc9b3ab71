package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldscope/collect/pkg/common/logger"
	"github.com/fieldscope/collect/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// Cache memoizes resolved form definitions with a bounded TTL. Keys carry a
// store identity so multiple deployments can share one redis. Invalidate is
// called synchronously before any definition mutation becomes visible; a
// stale definition would validate against a stale field set.
type Cache struct {
	client  *redis.Client
	storeID string
	ttl     time.Duration
}

func NewCache(client *redis.Client, storeID string, ttl time.Duration) *Cache {
	return &Cache{client: client, storeID: storeID, ttl: ttl}
}

func (c *Cache) key(formCode string) string {
	return fmt.Sprintf("form:%s:%s", c.storeID, models.Fold(formCode))
}

func (c *Cache) Get(ctx context.Context, formCode string) (*FormDefinition, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, c.key(formCode)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).Warn("form cache read failed")
		}
		return nil, false
	}
	var def FormDefinition
	if err := json.Unmarshal(payload, &def); err != nil {
		logger.Log.WithError(err).Warn("form cache entry corrupt")
		return nil, false
	}
	return &def, true
}

func (c *Cache) Set(ctx context.Context, def *FormDefinition) {
	if c == nil || c.client == nil || def == nil {
		return
	}
	payload, err := json.Marshal(def)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(def.FormCode), payload, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Warn("form cache write failed")
	}
}

func (c *Cache) Invalidate(ctx context.Context, formCode string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(formCode)).Err()
}
