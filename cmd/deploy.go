package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/usecase"
)

var deployFlags struct {
	repo        string
	region      string
	templateDir string
	vars        []string
	tags        []string
}

var deployCmd = &cobra.Command{
	Use:   "deploy [instructions...]",
	Short: "Start a deployment and follow it until it is healthy or failed",
	Example: `  deployhost deploy "deploy https://github.com/acme/app to tokyo on a small instance"
  deployhost deploy --repo https://github.com/acme/app --region eu-west-1 --var port=3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, err := entity.ParseTags(deployFlags.tags)
		if err != nil {
			return err
		}
		vars, err := entity.ParseTags(deployFlags.vars)
		if err != nil {
			return err
		}
		params := entity.Parameters{
			Instructions: strings.Join(args, " "),
			Repo:         deployFlags.repo,
			Region:       deployFlags.region,
			TemplateDir:  deployFlags.templateDir,
		}
		if len(vars) > 0 {
			params.Vars = lo.MapValues(vars, func(v string, _ string) any { return v })
		}
		if len(tags) > 0 {
			params.Tags = tags
		}

		return withInjector(cmd, func(ctx context.Context, injector *do.Injector) error {
			out := cmd.OutOrStdout()
			d, err := do.MustInvoke[usecase.StartDeploymentUsecase](injector).Execute(ctx, params)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deployment %s started (repo=%s region=%s)\n", d.ID, d.Parameters.Repo, d.Parameters.Region)

			d, err = streamRun(ctx, injector, out, d.ID, 0)
			if err != nil {
				return err
			}
			return finish(out, d, do.MustInvoke[*orchestrator.Controller](injector).OutputKey())
		})
	},
}

func init() {
	deployCmd.Flags().StringVar(&deployFlags.repo, "repo", "", "Repository URL to deploy")
	deployCmd.Flags().StringVar(&deployFlags.region, "region", "", "Cloud region")
	deployCmd.Flags().StringVar(&deployFlags.templateDir, "template-dir", "", "Infrastructure template directory")
	deployCmd.Flags().StringArrayVar(&deployFlags.vars, "var", nil, "Template variable as key=value (repeatable)")
	deployCmd.Flags().StringArrayVar(&deployFlags.tags, "tag", nil, "Resource tag as key=value (repeatable)")
}
