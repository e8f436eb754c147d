package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// releaseLua deletes a lock key only when it still holds the caller's
// token, so a holder whose TTL already expired cannot release a lock that
// has since been re-acquired by another instance.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager on SET NX with a TTL. The
// orchestrator holds "lock:event-sync" for the lifetime of its sync loop so
// only one instance ingests; persistence is idempotent, the lock just keeps
// a second instance from doubling every RPC read and trigger dispatch.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager on the shared client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the named lock for up to ttl and returns its release
// function, which is idempotent. Returns domain.ErrLockHeld when another
// instance holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Release with a fresh context; the caller's is usually
			// already cancelled during shutdown.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(relCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}
