package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/prn-tf/agora/internal/app"
	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/service"
)

func newAccountCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and repair account security state",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Show an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				userID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
				return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
					out, err := dispatch.Send[*service.AccountOutput](ctx, a.Dispatcher, domain.SystemPrincipal,
						service.GetAccountInput{UserID: userID})
					if err != nil {
						return err
					}
					return printAccount(cmd.OutOrStdout(), opts.output, out.Account)
				})
			},
		},
		&cobra.Command{
			Use:   "unlock <user-id>",
			Short: "Clear a login lockout",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				userID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
				return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
					out, err := dispatch.Send[*service.AccountOutput](ctx, a.Dispatcher, domain.SystemPrincipal,
						service.UnlockAccountInput{UserID: userID})
					if err != nil {
						return err
					}
					return printAccount(cmd.OutOrStdout(), opts.output, out.Account)
				})
			},
		},
	)
	return cmd
}

func printAccount(w io.Writer, format string, acct *domain.Account) error {
	if format == outputJSON {
		return printJSON(w, acct)
	}

	providers := make([]string, 0, len(acct.LinkedProviders))
	for name := range acct.LinkedProviders {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	return printTable(w, []string{"field", "value"}, [][]string{
		{"user_id", acct.UserID.String()},
		{"failed_attempts", strconv.Itoa(acct.FailedAttempts)},
		{"lockout_until", formatOptionalTime(acct.LockoutUntil)},
		{"lockout_count", strconv.Itoa(acct.LockoutCount)},
		{"two_factor", strconv.FormatBool(acct.TwoFactorEnabled)},
		{"providers", orDash(strings.Join(providers, ","))},
		{"suspended_until", formatOptionalTime(acct.SuspendedUntil)},
		{"banned", strconv.FormatBool(acct.Banned)},
		{"version", strconv.FormatInt(acct.Version, 10)},
	})
}
