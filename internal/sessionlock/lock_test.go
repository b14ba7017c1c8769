package sessionlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*miniredis.Miniredis, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(TypeRedis, WithRedisClient(client), WithTTL(time.Minute), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	return mr, l
}

func lockers(t *testing.T) map[string]Locker {
	_, r := newRedisLocker(t)
	return map[string]Locker{
		"memory": NewMemoryLocker(),
		"redis":  r,
	}
}

func TestNew(t *testing.T) {
	l, err := New(TypeMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLocker{}, l)

	_, err = New(TypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New("etcd")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestFromURL(t *testing.T) {
	l, closeFn, err := FromURL("", 0)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLocker{}, l)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	l, closeFn, err = FromURL("redis://"+mr.Addr()+"/0", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &RedisLocker{}, l)
	defer closeFn()

	release, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("dbchat:session-lock:s1"))
	release()
	assert.False(t, mr.Exists("dbchat:session-lock:s1"))

	_, _, err = FromURL("not a url", 0)
	assert.Error(t, err)
}

func TestLockerMutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var active, peak int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.Acquire(context.Background(), "same")
					if !assert.NoError(t, err) {
						return
					}
					defer release()
					n := atomic.AddInt32(&active, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&active, -1)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), peak)
		})
	}
}

func TestLockerIndependentSessions(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			r1, err := l.Acquire(context.Background(), "a")
			require.NoError(t, err)
			defer r1()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			r2, err := l.Acquire(ctx, "b")
			require.NoError(t, err)
			r2()
		})
	}
}

func TestLockerAcquireHonorsContext(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Acquire(context.Background(), "busy")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err = l.Acquire(ctx, "busy")
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			release()
			release()

			again, err := l.Acquire(context.Background(), "busy")
			require.NoError(t, err)
			again()
		})
	}
}

func TestMemoryLockerForgetsIdleSessions(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, 1, l.size())
	release()
	assert.Equal(t, 0, l.size())
}

func TestRedisLockerDoesNotReleaseForeignLock(t *testing.T) {
	mr, l := newRedisLocker(t)

	release, err := l.Acquire(context.Background(), "s")
	require.NoError(t, err)

	// Simulate expiry followed by another holder.
	mr.Del("dbchat:session-lock:s")
	require.NoError(t, mr.Set("dbchat:session-lock:s", "someone-else"))

	release()
	got, err := mr.Get("dbchat:session-lock:s")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerTTL(t *testing.T) {
	mr, l := newRedisLocker(t)

	release, err := l.Acquire(context.Background(), "s")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, time.Minute, mr.TTL("dbchat:session-lock:s"))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("dbchat:session-lock:s"))
}

func TestRedisLockerRenewsWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(TypeRedis, WithRedisClient(client), WithTTL(300*time.Millisecond))
	require.NoError(t, err)

	release, err := l.Acquire(context.Background(), "s")
	require.NoError(t, err)

	// miniredis only expires keys on FastForward, so age the key by hand
	// and let the real-time renewal push the expiry back out.
	mr.FastForward(250 * time.Millisecond)
	require.True(t, mr.Exists("dbchat:session-lock:s"))
	assert.Eventually(t, func() bool {
		return mr.TTL("dbchat:session-lock:s") > 100*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	release()
	assert.False(t, mr.Exists("dbchat:session-lock:s"))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, mr.Exists("dbchat:session-lock:s"))
}
