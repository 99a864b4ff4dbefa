package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/usecase"
)

var statusFlags struct {
	json bool
}

var statusCmd = &cobra.Command{
	Use:   "status ID",
	Short: "Show the status of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := entity.ParseID(args[0])
		if err != nil {
			return err
		}
		return withInjector(cmd, func(ctx context.Context, injector *do.Injector) error {
			d, err := do.MustInvoke[usecase.GetDeploymentUsecase](injector).Execute(ctx, id)
			if err != nil {
				return err
			}
			snap := d.Snapshot(do.MustInvoke[*orchestrator.Controller](injector).OutputKey())
			out := cmd.OutOrStdout()
			if statusFlags.json {
				return printJSON(out, snap)
			}

			fmt.Fprintf(out, "id:       %s\n", snap.ID)
			fmt.Fprintf(out, "status:   %s\n", statusColor(snap.Status).Sprint(snap.Status))
			fmt.Fprintf(out, "repo:     %s\n", snap.Repo)
			fmt.Fprintf(out, "region:   %s\n", snap.Region)
			if snap.PublicURL != "" {
				fmt.Fprintf(out, "url:      %s\n", snap.PublicURL)
			}
			fmt.Fprintf(out, "created:  %s\n", snap.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "updated:  %s\n", snap.UpdatedAt.Local().Format(time.DateTime))
			if snap.Error != "" {
				fmt.Fprintf(out, "error:    %s\n", failure.Sprint(snap.Error))
			}
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusFlags.json, "json", false, "Print the status as JSON")
}
