package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filechat/internal/log"
	"filechat/internal/models"
	"filechat/internal/redis"
)

const (
	invalidateChannel = "filechat:history:invalidate"
	defaultCacheTTL   = 30 * time.Minute
)

type invalidateMessage struct {
	UserID int64 `json:"user_id"`
}

// Cache keeps the last successfully fetched history per user in redis, so a
// failed fetch can still show something. A nil *Cache is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("filechat:history:%d", userID)
}

func (c *Cache) Store(ctx context.Context, userID int64, records []models.HistoryRecord) {
	if c == nil || userID <= 0 {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		log.Warnf("history cache marshal failed: %v", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(userID), data, c.ttl); err != nil {
		log.Warnf("history cache store failed: %v", err)
	}
}

// Load returns the cached records and whether there were any.
func (c *Cache) Load(ctx context.Context, userID int64) ([]models.HistoryRecord, bool) {
	if c == nil || userID <= 0 {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKey(userID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.Warnf("history cache load failed: %v", err)
		}
		return nil, false
	}
	var records []models.HistoryRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		log.Warnf("history cache decode failed: %v", err)
		return nil, false
	}
	return records, true
}

// Invalidate drops the user's entry and tells other processes to do the same.
func (c *Cache) Invalidate(ctx context.Context, userID int64) {
	if c == nil || userID <= 0 {
		return
	}
	if err := c.client.Del(ctx, cacheKey(userID)); err != nil {
		log.Warnf("history cache delete failed: %v", err)
	}
	payload, err := json.Marshal(invalidateMessage{UserID: userID})
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, invalidateChannel, payload); err != nil {
		log.Warnf("history cache publish invalidation failed: %v", err)
	}
}

// Listen calls handler with the user id of every invalidation until ctx ends.
func (c *Cache) Listen(ctx context.Context, handler func(userID int64)) error {
	if c == nil || handler == nil {
		return nil
	}
	return c.client.Subscribe(ctx, invalidateChannel, func(payload string) {
		var msg invalidateMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			log.Warnf("history invalidation decode failed: %v", err)
			return
		}
		handler(msg.UserID)
	})
}
