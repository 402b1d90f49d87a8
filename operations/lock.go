package operations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix      = "pushdeploy:lock:"
	defaultLockTTL     = 10 * time.Minute
	defaultLockPoll    = 250 * time.Millisecond
	lockConnectTimeout = 2 * time.Second
)

// ErrLockHeld is returned when another invocation holds the repository lock
// for longer than the caller is willing to wait.
var ErrLockHeld = errors.New("deployment lock held by another invocation")

// releaseScript deletes the lock only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker serialises deployments of one repository across invocations.
type Locker interface {
	Lock(ctx context.Context, repositoryID, owner string) error
	Unlock(ctx context.Context, repositoryID, owner string) error
}

// NoopLocker never blocks.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string, string) error   { return nil }
func (NoopLocker) Unlock(context.Context, string, string) error { return nil }

// RedisLocker is a single-key Redis lock. The key expires after TTL so a
// crashed invocation cannot wedge a repository forever.
type RedisLocker struct {
	client *redis.Client
	TTL    time.Duration
	Poll   time.Duration
}

// NewRedisLocker connects to the Redis server at url.
func NewRedisLocker(url string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), lockConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisLocker{client: client, TTL: ttl, Poll: defaultLockPoll}, nil
}

// Close shuts down the Redis client.
func (l *RedisLocker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Lock waits until the repository lock is free or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, repositoryID, owner string) error {
	key, err := lockKey(repositoryID, owner)
	if err != nil {
		return err
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	poll := l.Poll
	if poll <= 0 {
		poll = defaultLockPoll
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrLockHeld, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock if owner still holds it.
func (l *RedisLocker) Unlock(ctx context.Context, repositoryID, owner string) error {
	key, err := lockKey(repositoryID, owner)
	if err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func lockKey(repositoryID, owner string) (string, error) {
	repositoryID = strings.TrimSpace(repositoryID)
	if repositoryID == "" || strings.TrimSpace(owner) == "" {
		return "", errors.New("repository and owner required")
	}
	return lockKeyPrefix + repositoryID, nil
}
