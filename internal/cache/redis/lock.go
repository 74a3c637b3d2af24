package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// Deletes the key only while it still holds our token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Extends the TTL only while it still holds our token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager grants single-owner locks with SET NX and a per-holder token.
type LockManager struct {
	rdb     *redis.Client
	unlock  *redis.Script
	refresh *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		unlock:  redis.NewScript(unlockLua),
		refresh: redis.NewScript(refreshLua),
	}
}

func lockKey(key string) string { return "lock:" + key }

// InstrumentKey is the lock key for live ownership of symbol.
func InstrumentKey(symbol string) string { return "instrument:" + symbol }

// Acquire takes the lock for ttl and keeps refreshing it at ttl/3 until the
// returned unlock is called. It returns domain.ErrLockHeld when another
// holder owns the key. unlock is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl < time.Second {
		return nil, fmt.Errorf("redis: lock %s: ttl %s below 1s", key, ttl)
	}
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: %s: %w", key, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				rctx, cancel := context.WithTimeout(context.Background(), ttl/3)
				_ = lm.refresh.Run(rctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Err()
				cancel()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			// The caller's context may already be cancelled at shutdown.
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(uctx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}
