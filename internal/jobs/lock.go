package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "unitreviews:jobs:"

// Lease is a held job lock. Renew extends it by ttl and reports false once
// the lease was lost to expiry or another holder.
type Lease struct {
	renew   func(ctx context.Context, ttl time.Duration) (bool, error)
	release func(ctx context.Context) error
}

func (l *Lease) Renew(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.renew(ctx, ttl)
}

// Release gives the lease back. Releasing a lost lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	return l.release(ctx)
}

// Locker grants exclusive, expiring job leases. TryLock returns ok=false when
// another holder owns name.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (lease *Lease, ok bool, err error)
}

// LocalLocker serialises jobs inside one process.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	clock  func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

// NewLocalLocker returns an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{leases: make(map[string]localLease), clock: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if lease, held := l.leases[name]; held && now.Before(lease.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.leases[name] = localLease{token: token, expires: now.Add(ttl)}
	return &Lease{
		renew: func(_ context.Context, ttl time.Duration) (bool, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			now := l.clock()
			lease, held := l.leases[name]
			if !held || lease.token != token || !now.Before(lease.expires) {
				return false, nil
			}
			l.leases[name] = localLease{token: token, expires: now.Add(ttl)}
			return true, nil
		},
		release: func(context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			if lease, held := l.leases[name]; held && lease.token == token {
				delete(l.leases, name)
			}
			return nil
		},
	}, true, nil
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lease cannot release a newer holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares job leases between replicas through Redis.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// DialRedis parses url, connects and pings.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	key := redisKeyPrefix + name
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire job lock %s: %w", name, err)
	}
	if !acquired {
		return nil, false, nil
	}
	return &Lease{
		renew: func(ctx context.Context, ttl time.Duration) (bool, error) {
			renewed, err := renewScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return false, fmt.Errorf("renew job lock %s: %w", name, err)
			}
			return renewed == 1, nil
		},
		release: func(ctx context.Context) error {
			err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("release job lock %s: %w", name, err)
			}
			return nil
		},
	}, true, nil
}
