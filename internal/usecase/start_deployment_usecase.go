package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/resolve"
)

type StartDeploymentUsecase interface {
	Execute(ctx context.Context, params entity.Parameters) (*entity.Deployment, error)
}

type startDeploymentUsecaseImpl struct {
	resolver   resolve.Resolver
	controller *orchestrator.Controller
}

// Execute implements StartDeploymentUsecase. Explicit parameters win over
// anything resolved from the instructions.
func (s *startDeploymentUsecaseImpl) Execute(ctx context.Context, params entity.Parameters) (*entity.Deployment, error) {
	resolved, err := s.resolver.Resolve(ctx, params)
	if err != nil {
		return nil, err
	}
	return s.controller.Start(ctx, resolved)
}

func NewStartDeploymentUsecase(injector *do.Injector) (StartDeploymentUsecase, error) {
	return &startDeploymentUsecaseImpl{
		resolver:   do.MustInvoke[resolve.Resolver](injector),
		controller: do.MustInvoke[*orchestrator.Controller](injector),
	}, nil
}
