package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
)

type GetDeploymentOutputsUsecase interface {
	Execute(ctx context.Context, id entity.ID) (map[string]any, error)
}

type getDeploymentOutputsUsecaseImpl struct {
	controller *orchestrator.Controller
}

// Execute implements GetDeploymentOutputsUsecase.
func (g *getDeploymentOutputsUsecaseImpl) Execute(ctx context.Context, id entity.ID) (map[string]any, error) {
	return g.controller.Outputs(ctx, id)
}

func NewGetDeploymentOutputsUsecase(injector *do.Injector) (GetDeploymentOutputsUsecase, error) {
	return &getDeploymentOutputsUsecaseImpl{
		controller: do.MustInvoke[*orchestrator.Controller](injector),
	}, nil
}
