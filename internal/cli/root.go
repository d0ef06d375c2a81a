package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "wowcoin",
	Short: "WowCoin wallet ledger",
	Long: `wowcoin runs the WowCoin wallet: the HTTP API that meters paid features and
the operator commands that inspect and adjust user balances.

Configuration comes from the environment (and a .env file when present).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command until ctx is cancelled or the command returns.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// quiet moves logs of one-shot commands to stderr and turns exporters off so stdout
// only carries the command result. Explicit settings win.
func quiet() {
	if os.Getenv("LOG_OUTPUT") == "" {
		_ = os.Setenv("LOG_OUTPUT", "stderr")
	}
	if os.Getenv("LOG_LEVEL") == "" {
		_ = os.Setenv("LOG_LEVEL", "warn")
	}
	if os.Getenv("OTEL_ENABLED") == "" {
		_ = os.Setenv("OTEL_ENABLED", "false")
	}
}
