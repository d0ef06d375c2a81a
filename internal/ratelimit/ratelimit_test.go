package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFeatureLimiterWithoutRedisIsUnlimited(t *testing.T) {
	cfg := config.Defaults()
	cfg.FeatureRateLimit = 2

	limiter, err := NewFeatureLimiter(Params{Cfg: cfg, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, Unlimited{}, limiter)

	result, err := limiter.Allow(context.Background(), "u1", "export")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestNewTokenBucketValidates(t *testing.T) {
	_, err := NewTokenBucket(nil, 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	_, err = NewTokenBucket(client, 0, 1)
	assert.Error(t, err)
	_, err = NewTokenBucket(client, 1, 0)
	assert.Error(t, err)

	bucket, err := NewTokenBucket(client, 1, 1)
	require.NoError(t, err)
	_, err = bucket.Allow(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestRefillWait(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, refillWait(0.5, 1))
	assert.Equal(t, time.Duration(0), refillWait(1.2, 1))
	assert.Equal(t, 2*time.Second, bucketTTL(1, 1))
}

func TestFeatureUseKey(t *testing.T) {
	assert.Equal(t, "wowcoin:ratelimit:feature:u1:card-scan", featureUseKey(" u1 ", "card-scan"))
}

func TestScriptReplyParsing(t *testing.T) {
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(1), toInt("1"))
	assert.InDelta(t, 0.25, toFloat("0.25"), 1e-9)
	assert.InDelta(t, 3.0, toFloat(int64(3)), 1e-9)
}
