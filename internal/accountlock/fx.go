package accountlock

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wowcoin/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisKeyPrefix = "wowcoin:lock:account:"

var Module = fx.Module("account.lock",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis redis.UniversalClient `optional:"true"`
}

// New picks the Locker backend from configuration.
func New(p Params) (Locker, error) {
	switch p.Cfg.Ledger.LockBackend {
	case config.LockRedis:
		if p.Redis == nil {
			return nil, fmt.Errorf("lock backend %q requires REDIS_ADDR", config.LockRedis)
		}
		p.Log.Info("using redis account locks", zap.Duration("ttl", p.Cfg.Ledger.LockTTL))
		return NewRedis(p.Redis, redisKeyPrefix, p.Cfg.Ledger.LockTTL)
	default:
		return NewLocal(), nil
	}
}
