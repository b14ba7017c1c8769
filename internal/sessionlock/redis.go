package sessionlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the expiry only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker shared by every process using the same redis.
type RedisLocker struct {
	client       redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
	prefix       string
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := l.prefix + sessionID
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's ctx may already be canceled; release regardless.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

// keepAlive extends the key every third of the TTL while the lock is held,
// so a turn that outlives the TTL keeps its session. The TTL still bounds
// how long a crashed holder blocks the session.
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				// expired or taken over; nothing left to extend
				return
			}
		}
	}
}
