package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/usecase"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInjector(cmd, func(ctx context.Context, injector *do.Injector) error {
			deployments, err := do.MustInvoke[usecase.ListDeploymentUsecase](injector).Execute(ctx)
			if err != nil {
				return err
			}
			outputKey := do.MustInvoke[*orchestrator.Controller](injector).OutputKey()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tREGION\tREPO\tURL\tCREATED")
			for _, d := range deployments {
				snap := d.Snapshot(outputKey)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					snap.ID, snap.Status, snap.Region, snap.Repo, snap.PublicURL,
					snap.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		})
	},
}
