// Package inject wires every deployhost component into one injector shared
// by the HTTP server and the CLI commands.
package inject

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/config"
	"github.com/yz4230/deployhost/internal/eventlog"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/repository"
	"github.com/yz4230/deployhost/internal/resolve"
	"github.com/yz4230/deployhost/internal/storage"
	"github.com/yz4230/deployhost/internal/supervisor"
	"github.com/yz4230/deployhost/internal/terraform"
	"github.com/yz4230/deployhost/internal/usecase"
	"github.com/yz4230/deployhost/internal/verify"
	"gorm.io/gorm"
)

func New(cfg *config.Config, logger zerolog.Logger) *do.Injector {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)

	do.Provide(injector, func(i *do.Injector) (*gorm.DB, error) {
		return repository.NewSQLiteDB(cfg.DataDir)
	})
	do.Provide(injector, func(i *do.Injector) (repository.DeploymentRepository, error) {
		db := do.MustInvoke[*gorm.DB](i)
		return repository.NewDeploymentRepository(db), nil
	})
	do.Provide(injector, func(i *do.Injector) (repository.EventRepository, error) {
		db := do.MustInvoke[*gorm.DB](i)
		return repository.NewEventRepository(db), nil
	})
	do.Provide(injector, func(i *do.Injector) (*eventlog.Log, error) {
		return eventlog.New(
			do.MustInvoke[repository.EventRepository](i),
			do.MustInvoke[repository.DeploymentRepository](i),
			cfg.Follow.PollInterval.Std(),
			logger,
		), nil
	})
	do.Provide(injector, func(i *do.Injector) (storage.WorkspaceStorage, error) {
		return storage.NewWorkspaceStorage(cfg.WorkspaceDir(), logger), nil
	})
	do.Provide(injector, func(i *do.Injector) (supervisor.Runner, error) {
		if cfg.Runner.Kind == config.RunnerDocker {
			r, err := supervisor.NewDockerRunner(cfg.Runner.Image, cfg.Runner.GracePeriod.Std(), cfg.Runner.TailLines, logger)
			if err != nil {
				return nil, err
			}
			return r, nil
		}
		return supervisor.NewLocalRunner(cfg.Runner.GracePeriod.Std(), cfg.Runner.TailLines, logger), nil
	})
	do.Provide(injector, func(i *do.Injector) (*terraform.Tool, error) {
		return terraform.New(cfg.Terraform.Binary, cfg.TerraformEnv(), do.MustInvoke[supervisor.Runner](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (orchestrator.Verifier, error) {
		v := cfg.Verify
		return verify.NewPoller(v.ExpectStatus, v.ExpectBody, v.AttemptTimeout.Std(), logger), nil
	})
	do.Provide(injector, func(i *do.Injector) (*orchestrator.Controller, error) {
		return orchestrator.New(
			do.MustInvoke[repository.DeploymentRepository](i),
			do.MustInvoke[*eventlog.Log](i),
			do.MustInvoke[storage.WorkspaceStorage](i),
			do.MustInvoke[*terraform.Tool](i),
			do.MustInvoke[orchestrator.Verifier](i),
			orchestrator.Config{
				OutputKey:      cfg.Verify.OutputKey,
				SettleDelay:    cfg.SettleDelay.Std(),
				VerifyTimeout:  cfg.Verify.Timeout.Std(),
				VerifyInterval: cfg.Verify.Interval.Std(),
			},
			logger,
		), nil
	})
	do.Provide(injector, func(i *do.Injector) (resolve.Resolver, error) {
		return resolve.Chain{
			resolve.Rules{},
			resolve.Defaults{Region: cfg.Region, TemplateDir: cfg.Terraform.TemplateDir},
		}, nil
	})

	do.Provide(injector, usecase.NewStartDeploymentUsecase)
	do.Provide(injector, usecase.NewGetDeploymentUsecase)
	do.Provide(injector, usecase.NewListDeploymentUsecase)
	do.Provide(injector, usecase.NewGetDeploymentOutputsUsecase)
	do.Provide(injector, usecase.NewListDeploymentEventsUsecase)
	do.Provide(injector, usecase.NewDestroyDeploymentUsecase)
	return injector
}

// Shutdown stops running pipelines, then releases the runner and the
// database.
func Shutdown(ctx context.Context, injector *do.Injector) error {
	var errs []error
	if ctrl, err := do.Invoke[*orchestrator.Controller](injector); err == nil {
		errs = append(errs, ctrl.Shutdown(ctx))
	}
	if r, err := do.Invoke[supervisor.Runner](injector); err == nil {
		if closer, ok := r.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	if db, err := do.Invoke[*gorm.DB](injector); err == nil {
		errs = append(errs, repository.Close(db))
	}
	return errors.Join(errs...)
}
