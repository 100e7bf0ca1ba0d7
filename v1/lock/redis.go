package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
	"github.com/mirkobrombin/go-sentinel/v1/syncbus"
)

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// redisRetryInterval bounds how long Acquire sleeps when an unlock event
// is missed, e.g. because the holder's key expired instead of being released.
const redisRetryInterval = 50 * time.Millisecond

// Redis implements Locker using a Redis backend. Each key is owned by the
// Redis instance that set it, identified by a random token; Release only
// deletes keys this locker owns.
type Redis struct {
	client *redis.Client
	bus    syncbus.Bus
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis returns a new Redis locker using the provided client.
// Keys are stored under "sentinel:lock:".
func NewRedis(client *redis.Client, bus syncbus.Bus) *Redis {
	if bus == nil {
		bus = syncbus.NewInMemoryBus()
	}
	return &Redis{client: client, bus: bus, prefix: "sentinel:lock:", tokens: make(map[string]string)}
}

// TryLock attempts to obtain the lock without waiting.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
		_ = r.bus.Publish(ctx, syncbus.LockTopic(key))
	}
	return ok, nil
}

// Acquire blocks until the lock is obtained or the context is cancelled.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	// Subscribe before the first attempt so an unlock racing with it
	// still wakes us.
	ch, err := r.bus.Subscribe(ctx, syncbus.UnlockTopic(key))
	if err != nil {
		return err
	}
	defer func() { _ = r.bus.Unsubscribe(context.Background(), syncbus.UnlockTopic(key), ch) }()

	retry := time.NewTicker(redisRetryInterval)
	defer retry.Stop()
	for {
		ok, err := r.TryLock(ctx, key, ttl)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-retry.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release frees the lock for the given key. A key this locker does not
// own is left untouched and ErrNotHeld is returned.
func (r *Redis) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.tokens[key]
	r.mu.Unlock()
	if !ok {
		return sentinelerrors.ErrNotHeld
	}
	_, err := delScript.Run(ctx, r.client, []string{r.prefix + key}, token).Result()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.tokens, key)
	r.mu.Unlock()
	_ = r.bus.Publish(ctx, syncbus.UnlockTopic(key))
	return nil
}
