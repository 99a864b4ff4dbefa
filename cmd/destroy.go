package cmd

import (
	"context"
	"fmt"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/usecase"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy ID",
	Short: "Tear down a deployment and follow the destroy until it ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := entity.ParseID(args[0])
		if err != nil {
			return err
		}
		return withInjector(cmd, func(ctx context.Context, injector *do.Injector) error {
			out := cmd.OutOrStdout()
			events, err := do.MustInvoke[usecase.ListDeploymentEventsUsecase](injector).Execute(ctx, id, 0)
			if err != nil {
				return err
			}
			var cursor int64
			if len(events) > 0 {
				cursor = events[len(events)-1].Sequence
			}

			d, err := do.MustInvoke[usecase.DestroyDeploymentUsecase](injector).Execute(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "destroying deployment %s (was %s)\n", d.ID, d.Status)

			d, err = streamRun(ctx, injector, out, id, cursor)
			if err != nil {
				return err
			}
			return finish(out, d, do.MustInvoke[*orchestrator.Controller](injector).OutputKey())
		})
	},
}
