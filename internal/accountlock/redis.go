package accountlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultRetryInterval = 25 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// Redis is a Locker shared by every replica pointing at the same Redis. The TTL bounds
// how long a crashed holder can block the key.
type Redis struct {
	client redis.UniversalClient
	script *redis.Script
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &Redis{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		prefix: prefix,
		ttl:    ttl,
		retry:  defaultRetryInterval,
	}, nil
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	redisKey := l.prefix + key

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		token, ok, err := l.tryLock(ctx, redisKey)
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitError(ctx)
			}
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() { l.release(redisKey, token) })
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, waitError(ctx)
		case <-ticker.C:
		}
	}
}

func (l *Redis) tryLock(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// release runs detached from the caller's context so a cancelled request still frees the key.
func (l *Redis) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_ = l.script.Run(ctx, l.client, []string{key}, token).Err()
}
