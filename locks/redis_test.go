package locks

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisLockerRequiresClient(t *testing.T) {
	_, err := NewRedisLocker(RedisConfig{})
	assert.Error(t, err)
}

func TestNewRedisLockerDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	locker, err := NewRedisLocker(RedisConfig{Client: client})
	require.NoError(t, err)

	impl := locker.(*redisLocker)
	assert.Positive(t, impl.ttl)
	assert.Positive(t, impl.pollInterval)
}

func TestRedisKeyUsesAbsolutePath(t *testing.T) {
	key := RedisKey("outputs")

	require.True(t, strings.HasPrefix(key, redisKeyPrefix))

	path := strings.TrimPrefix(key, redisKeyPrefix)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, "outputs", filepath.Base(path))
	assert.Equal(t, RedisKey(path), key)
}
