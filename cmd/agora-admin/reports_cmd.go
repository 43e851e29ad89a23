package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/prn-tf/agora/internal/app"
	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/service"
)

func newReportsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Work with moderation reports",
	}

	var status string
	var limit int

	list := &cobra.Command{
		Use:   "list",
		Short: "List reports, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := domain.ReportStatus(status)
			if st != "" && !st.Valid() {
				return fmt.Errorf("unknown report status %q", status)
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				out, err := dispatch.Send[*service.ListReportsOutput](ctx, a.Dispatcher, domain.SystemPrincipal,
					service.ListReportsInput{Status: st, Limit: limit})
				if err != nil {
					return err
				}

				if opts.output == outputJSON {
					return printJSON(cmd.OutOrStdout(), out.Reports)
				}
				rows := make([][]string, 0, len(out.Reports))
				for _, r := range out.Reports {
					rows = append(rows, []string{
						r.ID.String(),
						string(r.Status),
						r.ContentType + ":" + r.ContentID,
						orDash(string(r.Action)),
						r.CreatedAt.UTC().Format(time.RFC3339),
						orDash(r.SanctionError),
					})
				}
				return printTable(cmd.OutOrStdout(), []string{"id", "status", "content", "action", "created", "sanction_error"}, rows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (pending, under_review, resolved, dismissed)")
	list.Flags().IntVar(&limit, "limit", service.DefaultReportListLimit, fmt.Sprintf("maximum number of reports (at most %d)", service.MaxReportListLimit))

	cmd.AddCommand(list)
	return cmd
}
