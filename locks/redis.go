package locks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "diffusion_sweeper:lock:"

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client       redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
}

type RedisConfig struct {
	Client redis.UniversalClient
	// TTL bounds how long a crashed holder can block others.
	TTL          time.Duration
	PollInterval time.Duration
}

// NewRedisLocker locks roots shared by several hosts (for example an output
// directory on network storage).
func NewRedisLocker(cfg RedisConfig) (Locker, error) {
	if cfg.Client == nil {
		return nil, errors.New("missing redis client")
	}

	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &redisLocker{
		client:       cfg.Client,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
	}, nil
}

func RedisKey(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	return redisKeyPrefix + root
}

func (l *redisLocker) Lock(ctx context.Context, root string) (Unlock, error) {
	key := RedisKey(root)
	token := uuid.NewString()

	for {
		acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}

		if acquired {
			return func() error {
				// the caller's ctx may be done by now
				return releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
		case <-time.After(l.pollInterval):
		}
	}
}
