package usecase

import (
	"context"

	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/repository"
)

type ListDeploymentUsecase interface {
	Execute(ctx context.Context) ([]*entity.Deployment, error)
}

type listDeploymentUsecaseImpl struct {
	deploymentRepository repository.DeploymentRepository
}

// Execute implements ListDeploymentUsecase.
func (l *listDeploymentUsecaseImpl) Execute(ctx context.Context) ([]*entity.Deployment, error) {
	return l.deploymentRepository.List(ctx)
}

func NewListDeploymentUsecase(injector *do.Injector) (ListDeploymentUsecase, error) {
	return &listDeploymentUsecaseImpl{
		deploymentRepository: do.MustInvoke[repository.DeploymentRepository](injector),
	}, nil
}
