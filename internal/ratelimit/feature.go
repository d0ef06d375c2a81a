package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wowcoin/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyFeatureUse = "wowcoin:ratelimit:feature:"

// FeatureLimiter throttles paid feature invocations per user and feature.
type FeatureLimiter interface {
	Allow(ctx context.Context, userID, featureKey string) (Result, error)
}

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis redis.UniversalClient `optional:"true"`
}

// NewFeatureLimiter returns a Redis token bucket limiter, or an unlimited one when
// Redis or a positive rate is not configured.
func NewFeatureLimiter(p Params) (FeatureLimiter, error) {
	rate := p.Cfg.FeatureRateLimit
	burst := p.Cfg.FeatureRateBurst
	if p.Redis == nil || rate <= 0 {
		return Unlimited{}, nil
	}
	if burst <= 0 {
		burst = 1
	}

	bucket, err := NewTokenBucket(p.Redis, rate, burst)
	if err != nil {
		return nil, err
	}
	p.Log.Named("ratelimit").Info("feature rate limit enabled",
		zap.Float64("rate_per_second", rate),
		zap.Int("burst", burst),
	)
	return &featureLimiter{bucket: bucket}, nil
}

type featureLimiter struct {
	bucket *TokenBucket
}

func (l *featureLimiter) Allow(ctx context.Context, userID, featureKey string) (Result, error) {
	return l.bucket.Allow(ctx, featureUseKey(userID, featureKey))
}

func featureUseKey(userID, featureKey string) string {
	return keyFeatureUse + strings.TrimSpace(userID) + ":" + strings.TrimSpace(featureKey)
}

// Unlimited allows every call.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string, string) (Result, error) {
	return Result{Allowed: true}, nil
}
