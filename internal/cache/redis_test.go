package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"transcription-scheduler/internal/models"
)

func newRedisCache(t *testing.T, capacity int64, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(client, capacity, ttl), mr
}

func TestRedisPutGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, 0, 0)

	if _, ok, err := c.Get(ctx, "A"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	want := models.Result{Text: "hello world", Language: "en"}
	if err := c.Put(ctx, "A", want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Get(ctx, "A")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Text != want.Text || got.Language != want.Language {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if err := c.Invalidate(ctx, "A"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "A"); ok {
		t.Fatal("invalidated entry still present")
	}
}

func TestRedisCapacityTrimEvictsLRU(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, 2, 0)

	_ = c.Put(ctx, "A", models.Result{Text: "a"})
	time.Sleep(2 * time.Millisecond)
	_ = c.Put(ctx, "B", models.Result{Text: "b"})
	time.Sleep(2 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "A"); !ok {
		t.Fatal("A should be present before trim")
	}
	time.Sleep(2 * time.Millisecond)
	_ = c.Put(ctx, "C", models.Result{Text: "c"})

	if _, ok, _ := c.Get(ctx, "B"); ok {
		t.Fatal("B was least recently accessed and should be evicted")
	}
	if _, ok, _ := c.Get(ctx, "A"); !ok {
		t.Fatal("A should survive the trim")
	}
	if _, ok, _ := c.Get(ctx, "C"); !ok {
		t.Fatal("C should survive the trim")
	}
}

func TestRedisEvictExpiredPrunesIndex(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, 0, 50*time.Millisecond)

	_ = c.Put(ctx, "A", models.Result{Text: "a"})
	mr.FastForward(100 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "A"); ok {
		t.Fatal("expired entry must read as absent")
	}
	n, err := c.EvictExpired(ctx)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one stale index entry pruned, got %d", n)
	}
}
