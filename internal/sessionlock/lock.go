// Package sessionlock serializes chat turns per session.
package sessionlock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type selects the lock backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

// DefaultTTL caps how long a redis lock survives a crashed holder.
const DefaultTTL = 2 * time.Minute

var (
	ErrInvalidType   = errors.New("sessionlock: invalid lock type")
	ErrInvalidConfig = errors.New("sessionlock: invalid configuration")
)

// Locker grants exclusive access to one session at a time. Acquire blocks
// until the lock is held or ctx is done. The returned release func is safe to
// call more than once.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// Option configures a Locker.
type Option func(*options)

type options struct {
	redisClient  redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
	keyPrefix    string
}

// WithRedisClient sets the client used by the redis backend.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}

// WithTTL sets the expiry of redis lock keys.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithPollInterval sets how often a waiting redis Acquire retries.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithKeyPrefix sets the redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// New creates a Locker of the given type.
// For redis, WithRedisClient is required.
func New(t Type, opts ...Option) (Locker, error) {
	cfg := &options{
		ttl:          DefaultTTL,
		pollInterval: 25 * time.Millisecond,
		keyPrefix:    "dbchat:session-lock:",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch t {
	case TypeMemory, "":
		return NewMemoryLocker(), nil
	case TypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		if cfg.ttl <= 0 {
			cfg.ttl = DefaultTTL
		}
		if cfg.pollInterval <= 0 {
			cfg.pollInterval = 25 * time.Millisecond
		}
		return &RedisLocker{
			client:       cfg.redisClient,
			ttl:          cfg.ttl,
			pollInterval: cfg.pollInterval,
			prefix:       cfg.keyPrefix,
		}, nil
	default:
		return nil, ErrInvalidType
	}
}

// FromURL returns a redis locker when redisURL is set and a memory locker
// otherwise. The returned close func releases the redis client.
func FromURL(redisURL string, ttl time.Duration) (Locker, func() error, error) {
	if redisURL == "" {
		return NewMemoryLocker(), func() error { return nil }, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opt)
	locker, err := New(TypeRedis, WithRedisClient(client), WithTTL(ttl))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return locker, client.Close, nil
}
