package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Mutex is a best-effort cross-replica lock over redis SetNX. It only
// trims duplicate work between replicas; correctness always comes from
// the conditional updates in the repositories.
type Mutex struct {
	client redis.UniversalClient
	key    string
	value  string
}

// NewMutex builds a mutex for the given key. A nil client yields a
// mutex that always grants the lock (single-replica deployments).
func NewMutex(client redis.UniversalClient, key string) *Mutex {
	return &Mutex{client: client, key: key, value: uuid.NewString()}
}

// TryLock attempts to take the lock for ttl, without waiting.
func (m *Mutex) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if m.client == nil {
		return true, nil
	}
	return m.client.SetNX(ctx, m.key, m.value, ttl).Result()
}

// Unlock releases the lock if this mutex still holds it.
func (m *Mutex) Unlock(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	const script = `if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end`
	return m.client.Eval(ctx, script, []string{m.key}, m.value).Err()
}
