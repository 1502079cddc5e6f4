package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Backend is a string-keyed byte cache with per-entry TTL. A non-positive
// TTL stores the entry without expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key into dst. Any failure, including a decode error, is
// reported as a miss.
func GetJSON(ctx context.Context, b Backend, key string, dst any) bool {
	raw, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Debug("Cache entry decode failed", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON stores value under key. Failures are logged and otherwise ignored.
func SetJSON(ctx context.Context, b Backend, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Debug("Cache entry encode failed", "key", key, "error", err)
		return
	}
	if err := b.Set(ctx, key, raw, ttl); err != nil {
		slog.Debug("Cache set failed", "key", key, "error", err)
	}
}
