package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/libsync-api/internal/models"
)

// ErrLockTimeout is returned when a library lock cannot be acquired before the context ends.
var ErrLockTimeout = errors.New("repository: library lock timeout")

// LocalLocker serialises writers per library inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[models.Library]chan struct{}
}

// NewLocalLocker constructs a process-local locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[models.Library]chan struct{})}
}

// Lock blocks until lib is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, lib models.Library) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[lib]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[lib] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-sem }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
}

const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// RedisLocker serialises writers per library across processes with SET NX leases.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	script *redis.Script
}

// NewRedisLocker constructs a distributed locker. ttl bounds how long a crashed holder blocks others.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond, script: redis.NewScript(unlockScript)}
}

func lockKey(lib models.Library) string {
	return "libsync:lock:" + lib.String()
}

// Lock polls until the lease is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, lib models.Library) (func(), error) {
	key := lockKey(lib)
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = l.script.Run(releaseCtx, l.client, []string{key}, token).Err()
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
