package cli

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/accountlock"
	"github.com/smallbiznis/wowcoin/internal/clock"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/migration"
	"github.com/smallbiznis/wowcoin/internal/observability"
	"github.com/smallbiznis/wowcoin/pkg/db"
	"go.uber.org/fx"
)

const stopTimeout = 15 * time.Second

// infrastructure wires everything the ledger needs. The SQL connection and its
// migrations are only part of the graph when the SQL store is selected.
func infrastructure(cfg config.Config) []fx.Option {
	opts := []fx.Option{
		config.Module(cfg),
		observability.Module,
		fx.Provide(newSnowflake),
		clock.Module,
		accountlock.Module,
		ledger.Module,
	}
	if cfg.Ledger.Store == config.StoreMongo {
		return append(opts, fx.Provide(db.NewRedis))
	}
	return append(opts, db.Module, migration.Module)
}

func newSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// runOnce starts an app built from opts, runs fn and stops the app again.
func runOnce(ctx context.Context, opts []fx.Option, fn func(ctx context.Context) error) error {
	app := fx.New(append(opts, fx.NopLogger)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

// withLedger runs fn against a fully wired ledger service.
func withLedger(ctx context.Context, fn func(ctx context.Context, svc domain.Service) error) error {
	quiet()
	cfg := config.Load()

	var svc domain.Service
	opts := append(infrastructure(cfg), fx.Populate(&svc))
	return runOnce(ctx, opts, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}
