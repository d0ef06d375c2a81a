package cli

import (
	"strings"

	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ratelimit"
	"github.com/smallbiznis/wowcoin/internal/server"
	"github.com/smallbiznis/wowcoin/internal/usagegate"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the wallet HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if addr, _ := cmd.Flags().GetString("addr"); strings.TrimSpace(addr) != "" {
		cfg.HTTPAddr = strings.TrimSpace(addr)
	}

	opts := append(infrastructure(cfg),
		ratelimit.Module,
		usagegate.Module,
		server.Module,
	)
	app := fx.New(opts...)
	app.Run()
	return app.Err()
}
