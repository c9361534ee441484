// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tvscribe:corpus:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCorpus keeps one list per day, shared by every daemon pointing at the
// same Redis. Each list expires the day after it was written.
type RedisCorpus struct {
	client *redis.Client
}

// NewRedisCorpus connects and pings Redis.
func NewRedisCorpus(ctx context.Context, cfg RedisConfig) (*RedisCorpus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisCorpus{client: client}, nil
}

func (r *RedisCorpus) Entries(ctx context.Context, day string) ([]Entry, error) {
	vals, err := r.client.LRange(ctx, redisKeyPrefix+day, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisCorpus) Append(ctx context.Context, day string, e Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + day
	expireAt := time.Now().Add(48 * time.Hour)
	if d, err := time.ParseInLocation(DayLayout, day, time.Local); err == nil {
		expireAt = d.AddDate(0, 0, 2)
	}
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, buf)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (r *RedisCorpus) Purge(ctx context.Context, keepFrom string) error {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var stale []string
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.TrimPrefix(key, redisKeyPrefix) < keepFrom {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	return r.client.Del(ctx, stale...).Err()
}

func (r *RedisCorpus) Close() error { return r.client.Close() }
