package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sep_psp/internal/plugins"
)

func TestRedisExpiryTracker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var tracker plugins.ExpiryTracker = NewRedisExpiryTracker(client)
	ctx := context.Background()
	expiresAt := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	if _, ok, err := tracker.ExpiresAt(ctx, "tx-1"); err != nil || ok {
		t.Fatalf("expected no expiry, got ok=%v err=%v", ok, err)
	}
	if err := tracker.Track(ctx, "tx-1", expiresAt); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	got, ok, err := tracker.ExpiresAt(ctx, "tx-1")
	if err != nil || !ok {
		t.Fatalf("ExpiresAt() ok=%v err=%v", ok, err)
	}
	if !got.Equal(expiresAt) {
		t.Errorf("expiresAt = %s, expected %s", got, expiresAt)
	}
	if ttl := mr.TTL("psp:expiry:tx-1"); ttl <= 24*time.Hour {
		t.Errorf("ttl = %s, expected more than the grace period", ttl)
	}

	if err := tracker.Forget(ctx, "tx-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tracker.ExpiresAt(ctx, "tx-1"); ok {
		t.Error("expected expiry to be forgotten")
	}
}

func TestMemoryExpiryTrackerConcurrent(t *testing.T) {
	tracker := NewMemoryExpiryTracker()
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "tx"
			if i%2 == 0 {
				id = "ty"
			}
			tracker.Track(ctx, id, base.Add(time.Duration(i)*time.Minute))
			tracker.ExpiresAt(ctx, id)
		}(i)
	}
	wg.Wait()

	if _, ok, _ := tracker.ExpiresAt(ctx, "tx"); !ok {
		t.Error("expected tx to be tracked")
	}
	tracker.Forget(ctx, "tx")
	if _, ok, _ := tracker.ExpiresAt(ctx, "tx"); ok {
		t.Error("expected tx to be forgotten")
	}
}
