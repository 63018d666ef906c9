package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps an expiry readable for a while after it passed, so a late status read still sees it
const expiryGrace = 24 * time.Hour

// NewRedisClient connects to redisURL and checks the connection
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.Info("redis connection established", "addr", opt.Addr)
	return client, nil
}

// RedisExpiryTracker keeps advisory payment expiries in Redis, shared by every PSP instance
type RedisExpiryTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisExpiryTracker(client *redis.Client) *RedisExpiryTracker {
	return &RedisExpiryTracker{client: client, prefix: "psp:expiry:"}
}

func (t *RedisExpiryTracker) key(pspTransactionID string) string {
	return t.prefix + pspTransactionID
}

// Track stores the expiry as unix seconds, kept until a grace period after it passes
func (t *RedisExpiryTracker) Track(ctx context.Context, pspTransactionID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt) + expiryGrace
	if ttl <= 0 {
		ttl = expiryGrace
	}
	return t.client.Set(ctx, t.key(pspTransactionID), expiresAt.Unix(), ttl).Err()
}

func (t *RedisExpiryTracker) ExpiresAt(ctx context.Context, pspTransactionID string) (time.Time, bool, error) {
	seconds, err := t.client.Get(ctx, t.key(pspTransactionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(seconds, 0), true, nil
}

func (t *RedisExpiryTracker) Forget(ctx context.Context, pspTransactionID string) error {
	return t.client.Del(ctx, t.key(pspTransactionID)).Err()
}

// MemoryExpiryTracker is the single process fallback used when no Redis is configured
type MemoryExpiryTracker struct {
	mu      sync.RWMutex
	expires map[string]time.Time
}

func NewMemoryExpiryTracker() *MemoryExpiryTracker {
	return &MemoryExpiryTracker{expires: make(map[string]time.Time)}
}

func (t *MemoryExpiryTracker) Track(_ context.Context, pspTransactionID string, expiresAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires[pspTransactionID] = expiresAt
	return nil
}

func (t *MemoryExpiryTracker) ExpiresAt(_ context.Context, pspTransactionID string) (time.Time, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	expiresAt, ok := t.expires[pspTransactionID]
	return expiresAt, ok, nil
}

func (t *MemoryExpiryTracker) Forget(_ context.Context, pspTransactionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.expires, pspTransactionID)
	return nil
}
