package achievement

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

// UnlockStore holds which achievements a user has already unlocked.
type UnlockStore interface {
	// MarkUnlocked records the unlock and reports whether it was new.
	MarkUnlocked(ctx context.Context, userID, achievementID string) (bool, error)
	// Unlocked lists the achievements unlocked by userID.
	Unlocked(ctx context.Context, userID string) ([]string, error)
}

// MemoryUnlockStore keeps unlock state in process memory.
type MemoryUnlockStore struct {
	mu       sync.Mutex
	unlocked map[string]map[string]bool
}

func NewMemoryUnlockStore() *MemoryUnlockStore {
	return &MemoryUnlockStore{unlocked: make(map[string]map[string]bool)}
}

func (ms *MemoryUnlockStore) MarkUnlocked(_ context.Context, userID, achievementID string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	user, ok := ms.unlocked[userID]
	if !ok {
		user = make(map[string]bool)
		ms.unlocked[userID] = user
	}
	if user[achievementID] {
		return false, nil
	}
	user[achievementID] = true
	return true, nil
}

func (ms *MemoryUnlockStore) Unlocked(_ context.Context, userID string) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ids := make([]string, 0, len(ms.unlocked[userID]))
	for id := range ms.unlocked[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

const unlockKeyPrefix = "achievements:"

// RedisUnlockStore keeps unlock state in a Redis set per user so that
// several engine instances agree on what is already unlocked.
type RedisUnlockStore struct {
	client *redis.Client
}

func NewRedisUnlockStore(client *redis.Client) *RedisUnlockStore {
	return &RedisUnlockStore{client: client}
}

func (rs *RedisUnlockStore) MarkUnlocked(ctx context.Context, userID, achievementID string) (bool, error) {
	added, err := rs.client.SAdd(ctx, unlockKeyPrefix+userID, achievementID).Result()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

func (rs *RedisUnlockStore) Unlocked(ctx context.Context, userID string) ([]string, error) {
	return rs.client.SMembers(ctx, unlockKeyPrefix+userID).Result()
}
