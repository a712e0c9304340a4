package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrRunInProgress = errors.New("ingestion run already in progress")

// RunLock makes runs mutually exclusive. TryAcquire never blocks: it fails
// with ErrRunInProgress when another run holds the lock.
type RunLock interface {
	TryAcquire(ctx context.Context) (release func(), err error)
}

// LocalLock serializes runs within one process.
type LocalLock struct {
	mu sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) TryAcquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// redisLocker is the part of redis.Client the lock needs.
type redisLocker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

const DefaultLockKey = "lock:catalog-ingest:run"

// RedisLock serializes runs across processes sharing one Redis. The key
// expires after ttl so a crashed holder cannot wedge ingestion.
type RedisLock struct {
	client redisLocker
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLock(client redisLocker, key string, ttl time.Duration, logger *slog.Logger) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger.With("component", "run_lock"),
	}
}

func (l *RedisLock) TryAcquire(ctx context.Context) (func(), error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// the run's own context may already be done
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(releaseCtx, releaseScript, []string{l.key}, token).Err(); err != nil {
				l.logger.Warn("failed to release run lock", "key", l.key, "error", err)
			}
		})
	}
	return release, nil
}
