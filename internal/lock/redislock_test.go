package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quotes/internal/lock"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockSerializesCallers(t *testing.T) {
	_, client := newClient(t)
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, Prefix: "lock:"}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		_ = locker.WithLock(ctx, "quote:1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	go func() {
		_ = locker.WithLock(ctx, "quote:1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockReleasesOnError(t *testing.T) {
	mr, client := newClient(t)
	locker := lock.Locker{R: client, Prefix: "lock:"}
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "quote:2", time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("lock:quote:2"))
}

func TestWithLockHonoursContext(t *testing.T) {
	mr, client := newClient(t)
	require.NoError(t, mr.Set("lock:quote:3", "someone-else"))
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, Prefix: "lock:"}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "quote:3", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockMaxWaitReportsNotAcquired(t *testing.T) {
	mr, client := newClient(t)
	require.NoError(t, mr.Set("lock:quote:4", "someone-else"))
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, MaxWait: 20 * time.Millisecond, Prefix: "lock:"}

	called := false
	err := locker.WithLock(context.Background(), "quote:4", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.False(t, called)
	require.True(t, mr.Exists("lock:quote:4"))
}

func TestWithLockMaxWaitDoesNotBoundCallback(t *testing.T) {
	mr, client := newClient(t)
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, MaxWait: 50 * time.Millisecond, Prefix: "lock:"}

	err := locker.WithLock(context.Background(), "quote:6", time.Second, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
		return ctx.Err()
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("lock:quote:6"))
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newClient(t)
	locker := lock.Locker{R: client, Prefix: "lock:"}

	err := locker.WithLock(context.Background(), "quote:5", time.Second, func(context.Context) error {
		// Simulate expiry followed by another holder taking the key.
		return mr.Set("lock:quote:5", "other-holder")
	})
	require.NoError(t, err)
	got, err := mr.Get("lock:quote:5")
	require.NoError(t, err)
	require.Equal(t, "other-holder", got)
}
