package cmd

import (
	"context"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/usecase"
)

var logsFlags struct {
	follow bool
	from   int64
}

var logsCmd = &cobra.Command{
	Use:   "logs ID",
	Short: "Print the event log of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := entity.ParseID(args[0])
		if err != nil {
			return err
		}
		return withInjector(cmd, func(ctx context.Context, injector *do.Injector) error {
			out := cmd.OutOrStdout()
			usecase := do.MustInvoke[usecase.ListDeploymentEventsUsecase](injector)
			if !logsFlags.follow {
				events, err := usecase.Execute(ctx, id, logsFlags.from)
				if err != nil {
					return err
				}
				for _, ev := range events {
					printEvent(out, ev)
				}
				return nil
			}
			for ev, err := range usecase.Follow(ctx, id, logsFlags.from) {
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				printEvent(out, ev)
			}
			return nil
		})
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFlags.follow, "follow", "f", false, "Keep printing new events until the current pipeline ends")
	logsCmd.Flags().Int64Var(&logsFlags.from, "from", 0, "Only print events after this sequence number")
}
