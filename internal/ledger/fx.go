package ledger

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/cache"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/ledger/events"
	"github.com/smallbiznis/wowcoin/internal/ledger/repository"
	"github.com/smallbiznis/wowcoin/internal/ledger/repository/mongostore"
	"github.com/smallbiznis/wowcoin/internal/ledger/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger",
	fx.Provide(
		NewStore,
		NewBalanceCache,
		events.NewHub,
		service.NewService,
	),
)

type StoreParams struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
	DB  *gorm.DB `optional:"true"`
}

// NewStore returns the ledger backend selected by LEDGER_STORE.
func NewStore(p StoreParams) (domain.Store, error) {
	if p.Cfg.Ledger.Store != config.StoreMongo {
		if p.DB == nil {
			return nil, errors.New("sql ledger store requires a database connection")
		}
		return repository.Provide(p.DB), nil
	}

	if p.Cfg.MongoURI == "" {
		return nil, errors.New("mongo ledger store requires MONGO_URI")
	}
	store, err := mongostore.Connect(context.Background(), p.Cfg.MongoURI, p.Cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	p.Log.Info("using mongo ledger store", zap.String("database", p.Cfg.MongoDatabase))

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close(ctx)
		},
	})
	return store, nil
}

type CacheParams struct {
	fx.In

	Cfg   config.Config
	Redis redis.UniversalClient `optional:"true"`
}

// NewBalanceCache uses Redis when a client is configured and a no-op cache otherwise.
func NewBalanceCache(p CacheParams) cache.BalanceCache {
	return cache.NewRedis(p.Redis, p.Cfg.Ledger.CacheTTL)
}
