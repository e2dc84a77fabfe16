package throttle

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGate stores last-admission stamps in Redis so several instances
// share one cooldown view. SET NX with a TTL makes the check-and-stamp a
// single round trip; expiry doubles as the purge.
type RedisGate struct {
	client   *redis.Client
	cooldown time.Duration
	prefix   string
}

func NewRedisGate(client *redis.Client, cooldown time.Duration) *RedisGate {
	return &RedisGate{client: client, cooldown: cooldown, prefix: "throttle:"}
}

func (g *RedisGate) Admit(ctx context.Context, key string) (Decision, error) {
	if g.cooldown <= 0 {
		return Decision{Allowed: true}, nil
	}

	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), g.cooldown).Result()
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return Decision{Allowed: true}, nil
	}

	ttl, err := g.client.PTTL(ctx, g.prefix+key).Result()
	if err != nil {
		return Decision{}, err
	}
	if ttl <= 0 {
		// Key expired between the two calls; treat as admitted next time.
		ttl = time.Millisecond
	}
	return Decision{RetryAfter: ttl}, nil
}
