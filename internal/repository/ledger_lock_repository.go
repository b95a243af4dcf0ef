package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld reports that another run holds the ledger lock.
var ErrLockHeld = errors.New("ledger lock held")

const lockPollInterval = 50 * time.Millisecond

// ReleaseFunc releases an acquired lock.
type ReleaseFunc func(ctx context.Context) error

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript pushes the expiry back only while the key still carries our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// lockBackend is the token-guarded key store behind RedisLedgerLock.
type lockBackend interface {
	take(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type redisLockBackend struct {
	client *redis.Client
}

func (b redisLockBackend) take(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (b redisLockBackend) refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, b.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis refresh %s: %w", key, err)
	}
	return n == 1, nil
}

func (b redisLockBackend) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, b.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

// RedisLedgerLock serialises generation runs across processes with SET NX PX. While held, the
// expiry is pushed back every third of the ttl, so a run that outlives ttl keeps the lock; the
// ttl only bounds how long a crashed holder blocks others.
type RedisLedgerLock struct {
	backend lockBackend
	key     string
}

// NewRedisLedgerLock constructs a lock on key.
func NewRedisLedgerLock(client *redis.Client, key string) *RedisLedgerLock {
	lock := &RedisLedgerLock{key: key}
	if client != nil {
		lock.backend = redisLockBackend{client: client}
	}
	return lock
}

// Acquire polls until the lock is taken, wait elapses or ctx is done.
func (l *RedisLedgerLock) Acquire(ctx context.Context, ttl, wait time.Duration) (ReleaseFunc, error) {
	if l.backend == nil {
		return nil, fmt.Errorf("redis client is not configured")
	}
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.backend.take(ctx, l.key, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.hold(token, ttl), nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// hold keeps the lock alive until the returned release is called or the key is lost.
func (l *RedisLedgerLock) hold(token string, ttl time.Duration) ReleaseFunc {
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(refreshInterval(ttl))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), ttl)
				ok, err := l.backend.refresh(ctx, l.key, token, ttl)
				cancel()
				if err == nil && !ok {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			<-stopped
			err = l.backend.release(ctx, l.key, token)
		})
		return err
	}
}

func refreshInterval(ttl time.Duration) time.Duration {
	if interval := ttl / 3; interval > 0 {
		return interval
	}
	return time.Millisecond
}

// LocalLedgerLock serialises generation runs inside one process.
type LocalLedgerLock struct {
	sem chan struct{}
}

// NewLocalLedgerLock constructs an in-process lock.
func NewLocalLedgerLock() *LocalLedgerLock {
	return &LocalLedgerLock{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free, wait elapses or ctx is done. ttl is ignored.
func (l *LocalLedgerLock) Acquire(ctx context.Context, _ time.Duration, wait time.Duration) (ReleaseFunc, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func(context.Context) error {
			once.Do(func() { <-l.sem })
			return nil
		}, nil
	case <-timer.C:
		return nil, ErrLockHeld
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
