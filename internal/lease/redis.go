package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "agenda:lease:"

// Compare-and-delete so a device never drops a lease another device took over.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLeaser keeps delivery leases in Redis for devices that share a Redis
// instance but replicate the reminder tables lazily. Expiry is Redis' own TTL,
// so the caller's clock only matters for the store-backed leaser.
type RedisLeaser struct {
	rdb redis.UniversalClient
}

func NewRedisLeaser(rdb redis.UniversalClient) *RedisLeaser {
	return &RedisLeaser{rdb: rdb}
}

// Dial parses a redis:// or rediss:// URL and checks the connection.
func Dial(ctx context.Context, rawURL string) (*RedisLeaser, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisLeaser{rdb: rdb}, nil
}

func (l *RedisLeaser) TryAcquire(ctx context.Context, reminderID, device string, _ time.Time, d time.Duration) (bool, error) {
	if d <= 0 {
		return false, errors.New("lease: duration must be positive")
	}
	ok, err := l.rdb.SetNX(ctx, keyPrefix+reminderID, device, d).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", reminderID, err)
	}
	return ok, nil
}

func (l *RedisLeaser) Release(ctx context.Context, reminderID, device string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{keyPrefix + reminderID}, device).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", reminderID, err)
	}
	return nil
}

// Holder returns the device holding the lease, or "" when none is live.
func (l *RedisLeaser) Holder(ctx context.Context, reminderID string) (string, error) {
	v, err := l.rdb.Get(ctx, keyPrefix+reminderID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (l *RedisLeaser) Close() error {
	return l.rdb.Close()
}
