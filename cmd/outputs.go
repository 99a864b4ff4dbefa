package cmd

import (
	"context"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/usecase"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs ID",
	Short: "Print the outputs captured after a successful apply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := entity.ParseID(args[0])
		if err != nil {
			return err
		}
		return withInjector(cmd, func(ctx context.Context, injector *do.Injector) error {
			outputs, err := do.MustInvoke[usecase.GetDeploymentOutputsUsecase](injector).Execute(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outputs)
		})
	},
}
