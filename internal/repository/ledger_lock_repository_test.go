package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLedgerLockSerialises(t *testing.T) {
	lock := NewLocalLedgerLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, time.Second, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	again, err := lock.Acquire(ctx, time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocalLedgerLockHonoursContext(t *testing.T) {
	lock := NewLocalLedgerLock()
	release, err := lock.Acquire(context.Background(), time.Second, time.Second)
	require.NoError(t, err)
	defer release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lock.Acquire(ctx, time.Second, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLedgerLockWithoutClient(t *testing.T) {
	_, err := NewRedisLedgerLock(nil, "lock").Acquire(context.Background(), time.Second, time.Second)
	assert.Error(t, err)
}

func TestRedisLedgerLockSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, err := NewRedisLedgerLock(client, "timetable:ledger:lock").Acquire(context.Background(), time.Second, 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockHeld)
}

// fakeLockBackend is an in-memory token store counting refreshes.
type fakeLockBackend struct {
	mu        sync.Mutex
	owner     string
	refreshes int
	releases  int
}

func (f *fakeLockBackend) take(_ context.Context, _, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != "" {
		return false, nil
	}
	f.owner = token
	return true, nil
}

func (f *fakeLockBackend) refresh(_ context.Context, _, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != token {
		return false, nil
	}
	f.refreshes++
	return true, nil
}

func (f *fakeLockBackend) release(_ context.Context, _, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner == token {
		f.owner = ""
		f.releases++
	}
	return nil
}

func (f *fakeLockBackend) counts() (refreshes, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.releases
}

func (f *fakeLockBackend) steal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = "someone-else"
}

func TestRedisLedgerLockRefreshesWhileHeld(t *testing.T) {
	backend := &fakeLockBackend{}
	lock := &RedisLedgerLock{backend: backend, key: "timetable:ledger:lock"}
	ctx := context.Background()

	release, err := lock.Acquire(ctx, 30*time.Millisecond, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		refreshes, _ := backend.counts()
		return refreshes >= 3
	}, 2*time.Second, 5*time.Millisecond)

	_, err = lock.Acquire(ctx, 30*time.Millisecond, 0)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	refreshes, releases := backend.counts()
	assert.Equal(t, 1, releases)

	time.Sleep(50 * time.Millisecond)
	after, _ := backend.counts()
	assert.Equal(t, refreshes, after, "no refresh after release")

	again, err := lock.Acquire(ctx, 30*time.Millisecond, 0)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLedgerLockStopsRefreshingALostKey(t *testing.T) {
	backend := &fakeLockBackend{}
	lock := &RedisLedgerLock{backend: backend, key: "timetable:ledger:lock"}

	release, err := lock.Acquire(context.Background(), 15*time.Millisecond, 0)
	require.NoError(t, err)
	backend.steal()

	time.Sleep(60 * time.Millisecond)
	refreshes, _ := backend.counts()
	assert.LessOrEqual(t, refreshes, 1)

	require.NoError(t, release(context.Background()))
	_, releases := backend.counts()
	assert.Zero(t, releases, "a stolen key is left to its new owner")
}

func TestCacheRepositoryWithoutClientMisses(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	var dest map[string]string

	err := repo.Get(context.Background(), "timetable:3:5", &dest)
	assert.Error(t, err)
	assert.NoError(t, repo.Set(context.Background(), "k", "v", time.Minute))
	assert.NoError(t, repo.DeleteByPattern(context.Background(), "timetable:*"))
	assert.NoError(t, repo.Close())
}
