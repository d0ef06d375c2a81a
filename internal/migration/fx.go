package migration

import (
	"github.com/smallbiznis/wowcoin/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the SQL store on startup. The mongo backend manages its own indexes.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.Ledger.Store != config.StoreSQL {
			return nil
		}
		if err := Run(conn); err != nil {
			return err
		}
		log.Info("ledger schema up to date", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}),
)
