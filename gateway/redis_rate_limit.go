// Copyright 2025 FreshFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var redisClient *redis.Client

// initRedis initializes the Redis connection pool
func initRedis(redisURL string) error {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisClient = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	fmt.Printf("✅ Redis connected: %s\n", redisURL)
	return nil
}

// checkRateLimitDistributed enforces the per-client limit with a Redis
// sliding window. Falls back to in-memory counting when Redis is not
// configured, and fails open on Redis errors.
func checkRateLimitDistributed(ctx context.Context, clientID string, limitPerMinute int) error {
	if limitPerMinute <= 0 {
		return nil
	}

	if redisClient == nil {
		return checkRateLimit(clientID, limitPerMinute)
	}

	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s", clientID)

	// Pipeline keeps the window operations atomic
	pipe := redisClient.Pipeline()

	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// On Redis error, fail open (allow request) and log
		fmt.Printf("Warning: Redis rate limit check failed for %s: %v (failing open)\n", clientID, err)
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()

	if count > int64(limitPerMinute) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", count, limitPerMinute)
	}

	return nil
}

// getRateLimitStatusRedis returns the current window count from Redis
func getRateLimitStatusRedis(ctx context.Context, clientID string) (int, time.Time, error) {
	if redisClient == nil {
		count, _, resetTime := getRateLimitStatus(clientID)
		return count, resetTime, nil
	}

	key := fmt.Sprintf("ratelimit:%s", clientID)
	now := time.Now()

	minScore := now.Add(-time.Minute).Unix()
	count, err := redisClient.ZCount(ctx, key, fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get rate limit status: %w", err)
	}

	resetTime := now.Truncate(time.Minute).Add(time.Minute)

	return int(count), resetTime, nil
}

// flushRateLimitRedis removes all rate limit data for a client (admin operation)
func flushRateLimitRedis(ctx context.Context, clientID string) error {
	if redisClient == nil {
		return fmt.Errorf("redis not initialized")
	}

	key := fmt.Sprintf("ratelimit:%s", clientID)
	if err := redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit data: %w", err)
	}

	return nil
}

// closeRedis closes the Redis connection (cleanup on shutdown)
func closeRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
