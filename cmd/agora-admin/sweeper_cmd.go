package main

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/prn-tf/agora/internal/app"
)

func newSweeperCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Control the expired-code sweeper",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one sweep pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res := a.Sweeper.RunOnce(ctx)
				if res.Err != nil {
					return res.Err
				}

				if opts.output == outputJSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"purged":   res.Purged,
						"skipped":  res.Skipped,
						"duration": res.Duration.String(),
					})
				}
				return printTable(cmd.OutOrStdout(), []string{"purged", "skipped", "duration"}, [][]string{
					{itoa64(res.Purged), boolString(res.Skipped), res.Duration.String()},
				})
			})
		},
	})
	return cmd
}

func newKindsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the request kinds the core handles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app.App) error {
				kinds := a.Dispatcher.Kinds()
				names := make([]string, len(kinds))
				for i, k := range kinds {
					names[i] = string(k)
				}
				sort.Strings(names)

				if opts.output == outputJSON {
					return printJSON(cmd.OutOrStdout(), names)
				}
				rows := make([][]string, len(names))
				for i, n := range names {
					rows[i] = []string{n}
				}
				return printTable(cmd.OutOrStdout(), []string{"kind"}, rows)
			})
		},
	}
}
