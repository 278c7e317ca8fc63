package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLeaser(t *testing.T) (*RedisLeaser, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLeaser(rdb), mr
}

func TestRedisLeaserExclusiveUntilExpiry(t *testing.T) {
	l, mr := setupLeaser(t)
	ctx := context.Background()
	now := time.Now()

	ok, err := l.TryAcquire(ctx, "rem-1", "dev-a", now, 5*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.TryAcquire(ctx, "rem-1", "dev-b", now, 5*time.Minute)
	if err != nil || ok {
		t.Fatalf("expected contention: ok=%v err=%v", ok, err)
	}

	mr.FastForward(5*time.Minute + time.Second)
	ok, err = l.TryAcquire(ctx, "rem-1", "dev-b", now, 5*time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after expiry: ok=%v err=%v", ok, err)
	}
	holder, err := l.Holder(ctx, "rem-1")
	if err != nil || holder != "dev-b" {
		t.Fatalf("unexpected holder %q err=%v", holder, err)
	}
}

func TestRedisLeaserReleaseOnlyByHolder(t *testing.T) {
	l, _ := setupLeaser(t)
	ctx := context.Background()

	if ok, err := l.TryAcquire(ctx, "rem-1", "dev-a", time.Now(), time.Minute); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := l.Release(ctx, "rem-1", "dev-b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if holder, _ := l.Holder(ctx, "rem-1"); holder != "dev-a" {
		t.Fatalf("foreign release dropped the lease, holder=%q", holder)
	}
	if err := l.Release(ctx, "rem-1", "dev-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if holder, _ := l.Holder(ctx, "rem-1"); holder != "" {
		t.Fatalf("expected no holder, got %q", holder)
	}
	if err := l.Release(ctx, "rem-1", "dev-a"); err != nil {
		t.Fatalf("release of absent lease should be a no-op: %v", err)
	}
}

func TestRedisLeaserRejectsNonPositiveDuration(t *testing.T) {
	l, _ := setupLeaser(t)
	if _, err := l.TryAcquire(context.Background(), "rem-1", "dev-a", time.Now(), 0); err == nil {
		t.Fatal("expected error for zero lease")
	}
}
