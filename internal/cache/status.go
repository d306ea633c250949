package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medialens/mediaproc/internal/model"
)

const statusKeyPrefix = "task:status:"

// StatusCache keeps task records in Redis so polling clients do not hit the
// database on every request. Terminal transitions invalidate the entry; the
// next poll repopulates it from the repository.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// Get returns the cached task record, or ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, id uuid.UUID) (model.Task, bool) {
	val, err := c.client.Get(ctx, statusKeyPrefix+id.String()).Bytes()
	if err != nil {
		// Both a miss and a cache failure degrade to a repository hit.
		return model.Task{}, false
	}
	var t model.Task
	if err := json.Unmarshal(val, &t); err != nil {
		return model.Task{}, false
	}
	return t, true
}

// Set stores the task record under the configured TTL.
func (c *StatusCache) Set(ctx context.Context, t model.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKeyPrefix+t.ID.String(), data, c.ttl).Err()
}

// Invalidate drops the cached record on a terminal transition so a stale
// processing entry cannot outlive the database update.
func (c *StatusCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, statusKeyPrefix+id.String()).Err()
}
