package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wowcoin/internal/config"
	"github.com/smallbiznis/wowcoin/internal/ledger/domain"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reservationCmd)
	reservationCmd.AddCommand(reservationListCmd)
	reservationCmd.AddCommand(reservationCommitCmd)
	reservationCmd.AddCommand(reservationReleaseCmd)
	reservationCmd.AddCommand(reservationExpireCmd)

	reservationExpireCmd.Flags().Duration("older-than", config.DefaultReservationTTL, "Release pending holds created before this long ago")
}

var reservationCmd = &cobra.Command{
	Use:   "reservation",
	Short: "Inspect and settle held coins",
}

var reservationListCmd = &cobra.Command{
	Use:   "list USER_ID",
	Short: "List a user's pending reservations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			items, err := svc.Reservations(ctx, args[0])
			if err != nil {
				return err
			}
			if items == nil {
				items = []domain.Reservation{}
			}
			return printJSON(cmd, map[string]any{"user_id": args[0], "reservations": items})
		})
	},
}

var reservationCommitCmd = &cobra.Command{
	Use:   "commit USER_ID ID",
	Short: "Charge a pending reservation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseReservationID(args[1])
		if err != nil {
			return err
		}
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			result, err := svc.Commit(ctx, args[0], id)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var reservationReleaseCmd = &cobra.Command{
	Use:   "release USER_ID ID",
	Short: "Give held coins back without charging",
	Long:  `Release a pending reservation, for example one left behind by a feature run that crashed before it settled.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseReservationID(args[1])
		if err != nil {
			return err
		}
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			reservation, err := svc.Release(ctx, args[0], id)
			if err != nil {
				return err
			}
			return printJSON(cmd, reservation)
		})
	},
}

var reservationExpireCmd = &cobra.Command{
	Use:   "expire USER_ID",
	Short: "Release a user's stale pending reservations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive, got %s", olderThan)
		}
		return withLedger(cmd.Context(), func(ctx context.Context, svc domain.Service) error {
			released, err := svc.ExpireReservations(ctx, args[0], olderThan)
			if err != nil {
				return err
			}
			if released == nil {
				released = []domain.Reservation{}
			}
			return printJSON(cmd, map[string]any{
				"user_id":    args[0],
				"older_than": olderThan.String(),
				"released":   released,
			})
		})
	},
}

func parseReservationID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("reservation id %q is not valid", raw)
	}
	return id, nil
}
