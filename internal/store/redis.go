package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the client backing the snapshot bus and the health probe.
// Pub/sub receivers hold their own blocking connections, so the command
// timeouts here stay short without affecting subscriptions.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects with timeouts tight enough that a dead broker fails the
// health endpoint instead of stalling publishes.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MinIdleConns: 2,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
