package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/migration"
	"github.com/smallbiznis/wowcoin/internal/observability"
	"github.com/smallbiznis/wowcoin/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var errMongoMigrations = errors.New("the mongo store creates its indexes on startup, nothing to migrate")

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the SQL ledger schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSQL(cmd.Context(), true, func(conn *gorm.DB) error {
			return printVersion(cmd, conn)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSQL(cmd.Context(), false, func(conn *gorm.DB) error {
			return printVersion(cmd, conn)
		})
	},
}

// withSQL opens the configured SQL database. With migrate set the schema is brought
// up to date while the app starts.
func withSQL(ctx context.Context, migrate bool, fn func(conn *gorm.DB) error) error {
	quiet()
	cfg := config.Load()
	if cfg.Ledger.Store == config.StoreMongo {
		return errMongoMigrations
	}

	var conn *gorm.DB
	opts := []fx.Option{
		config.Module(cfg),
		observability.Module,
		fx.Provide(db.Open),
		fx.Populate(&conn),
	}
	if migrate {
		opts = append(opts, migration.Module)
	}
	return runOnce(ctx, opts, func(context.Context) error {
		return fn(conn)
	})
}

func printVersion(cmd *cobra.Command, conn *gorm.DB) error {
	if dialect := conn.Dialector.Name(); dialect != "postgres" {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s schema is created from the models, no versions tracked\n", dialect)
		return err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, dirty, err := migration.Version(sqlDB)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return err
}
