package lock

import (
	"context"
	"fmt"
	"ms-roster/internal/logger"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient connects to Redis and checks that it accepts writes with expiry, which the guard relies on.
func NewRedisClient(ctx context.Context, addr string, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	probe := keyPrefix + "probe"
	if err := client.Set(ctx, probe, "ok", 10*time.Second).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to write to Redis: %w", err)
	}
	client.Del(ctx, probe)

	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", addr, client.Options().DB))
	return client, nil
}
