package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kelvana/presetsmith/internal/models"
)

type RedisRecordCache struct {
	rdb *redis.Client
}

func NewRedisRecordCache(rdb *redis.Client) *RedisRecordCache {
	return &RedisRecordCache{rdb: rdb}
}

func recordKey(id string) string { return "req:" + id + ":record" }

func (c *RedisRecordCache) GetRecord(ctx context.Context, id string) (*models.InferenceRequest, bool, error) {
	s, err := c.rdb.Get(ctx, recordKey(id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec models.InferenceRequest
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		// data corrupt: treat as miss by deleting
		_ = c.rdb.Del(ctx, recordKey(id)).Err()
		return nil, false, nil
	}
	// a record whose status string is not a real lifecycle state is as
	// corrupt as unparseable JSON
	if _, ok := models.ParseStatus(string(rec.Status)); !ok {
		_ = c.rdb.Del(ctx, recordKey(id)).Err()
		return nil, false, nil
	}
	return &rec, true, nil
}

func (c *RedisRecordCache) SetRecord(ctx context.Context, rec *models.InferenceRequest, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, recordKey(rec.ID), b, ttl).Err()
}

func (c *RedisRecordCache) Del(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, recordKey(id))
	}
	return c.rdb.Del(ctx, keys...).Err()
}
