package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
)

type DestroyDeploymentUsecase interface {
	// Execute accepts a destroy request and returns the record as it was
	// when the request was accepted. Teardown continues in the background.
	Execute(ctx context.Context, id entity.ID) (*entity.Deployment, error)
}

type destroyDeploymentUsecaseImpl struct {
	controller *orchestrator.Controller
}

// Execute implements DestroyDeploymentUsecase.
func (d *destroyDeploymentUsecaseImpl) Execute(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	return d.controller.Destroy(ctx, id)
}

func NewDestroyDeploymentUsecase(injector *do.Injector) (DestroyDeploymentUsecase, error) {
	return &destroyDeploymentUsecaseImpl{
		controller: do.MustInvoke[*orchestrator.Controller](injector),
	}, nil
}
