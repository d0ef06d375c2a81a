package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/smallbiznis/wowcoin/internal/reconcile"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountInitCmd)
	rootCmd.AddCommand(creditCmd)
	rootCmd.AddCommand(deductCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reconcileCmd)

	accountInitCmd.Flags().Int64("grant", -1, "Starting balance (defaults to LEDGER_DEFAULT_GRANT)")
	creditCmd.Flags().String("reason", string(domain.ReasonBonus), "Credit reason: bonus, recharge or refund")
	deductCmd.Flags().String("reason", "", "Feature reason, e.g. card-scan")
	deductCmd.Flags().String("contact", "", "Contact the deduction was made for")
	historyCmd.Flags().Int("limit", 0, "Maximum transactions to return")
	historyCmd.Flags().String("before", "", "Cursor from a previous page")
	reconcileCmd.Flags().Bool("all", false, "Reconcile every account")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage wallet accounts",
}

var accountInitCmd = &cobra.Command{
	Use:   "init USER_ID",
	Short: "Create a wallet account with its starting grant",
	Long:  `Create a wallet account. Running it for an existing account is a no-op that prints the current account.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := domain.InitAccountRequest{UserID: args[0]}
		if grant, _ := cmd.Flags().GetInt64("grant"); cmd.Flags().Changed("grant") {
			req.InitialBalance = &grant
		}
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			resp, err := svc.InitAccount(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		})
	},
}

var creditCmd = &cobra.Command{
	Use:   "credit USER_ID AMOUNT",
	Short: "Add coins to a wallet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			result, err := svc.Credit(ctx, domain.CreditRequest{
				UserID:   args[0],
				Amount:   amount,
				Reason:   domain.ParseReason(reason),
				Metadata: map[string]any{"source": "cli"},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var deductCmd = &cobra.Command{
	Use:   "deduct USER_ID AMOUNT",
	Short: "Charge coins for a feature",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		contact, _ := cmd.Flags().GetString("contact")
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			result, err := svc.Deduct(ctx, domain.DeductRequest{
				UserID:      args[0],
				Amount:      amount,
				Reason:      domain.ParseReason(reason),
				ContactName: contact,
				Metadata:    map[string]any{"source": "cli"},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance USER_ID",
	Short: "Print the current balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			balance, err := svc.GetBalance(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"user_id": args[0], "balance": balance})
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history USER_ID",
	Short: "List recent transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		before, _ := cmd.Flags().GetString("before")
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			resp, err := svc.History(ctx, domain.HistoryRequest{UserID: args[0], Limit: limit, Before: before})
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [USER_ID]",
	Short: "Check balances against the transaction log",
	Long: `Compare the stored balance with the initial grant plus the sum of all transactions.
With --all every account is checked and the run summary is pushed to the configured
Pushgateway or remote_write endpoint. Exits non-zero on drift.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case all && len(args) == 0:
			return reconcileAll(cmd)
		case !all && len(args) == 1:
			return reconcileOne(cmd, args[0])
		default:
			return errors.New("pass either a USER_ID or --all")
		}
	},
}

func reconcileOne(cmd *cobra.Command, userID string) error {
	return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
		report, err := svc.Reconcile(ctx, userID)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if !report.Consistent {
			return fmt.Errorf("balance of %s drifted from its transactions", report.UserID)
		}
		return nil
	})
}

func reconcileAll(cmd *cobra.Command) error {
	quiet()
	cfg := config.Load()

	var job *reconcile.Job
	opts := append(infrastructure(cfg), reconcile.Module, fx.Populate(&job))
	return runOnce(cmd.Context(), opts, func(ctx context.Context) error {
		summary, runErr := job.Run(ctx)
		if err := printJSON(cmd, summary); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if !summary.Consistent() {
			return fmt.Errorf("%d accounts drifted, %d could not be checked", len(summary.Drifted), summary.Failed)
		}
		return nil
	})
}

func parseAmount(raw string) (int64, error) {
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a whole number", raw)
	}
	return amount, nil
}
