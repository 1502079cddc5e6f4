package cache

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/coocood/freecache"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend is an in-process cache. Expiry has one second resolution,
// the same as Redis EX, with sub-second TTLs rounded up.
type MemoryBackend struct {
	cache *freecache.Cache
}

// NewMemoryBackend creates an in-process cache of roughly sizeMB megabytes.
func NewMemoryBackend(sizeMB int) *MemoryBackend {
	if sizeMB <= 0 {
		sizeMB = 1
	}
	return &MemoryBackend{
		cache: freecache.NewCache(sizeMB * 1024 * 1024),
	}
}

func (mb *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, err := mb.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (mb *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return mb.cache.Set([]byte(key), value, expireSeconds(ttl))
}

func (mb *MemoryBackend) Delete(_ context.Context, key string) error {
	mb.cache.Del([]byte(key))
	return nil
}

func expireSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int(math.Ceil(ttl.Seconds()))
}
