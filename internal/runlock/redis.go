package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed holder can block other processes.
const DefaultLockTTL = 2 * time.Hour

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker shared by every process using the same Redis.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis creates a Redis-backed locker
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "tubevore:lock:"
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		tokens: make(map[string]string),
	}
}

// Acquire sets the lock key with SET NX and an expiry.
func (l *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release deletes the lock key if this locker still owns it.
func (l *Redis) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := scriptErr(releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// scriptErr drops redis.Nil, which a script returns when the key is already gone.
func scriptErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Ensure Redis implements Locker interface
var _ Locker = (*Redis)(nil)
