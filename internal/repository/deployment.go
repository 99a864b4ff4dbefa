package repository

import (
	"context"

	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/keylock"
	"gorm.io/gorm"
)

// DeploymentRepository is the durable Deployment Record Store.
type DeploymentRepository interface {
	Create(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error)
	GetByID(ctx context.Context, id entity.ID) (*entity.Deployment, error)
	List(ctx context.Context) ([]*entity.Deployment, error)
	// Update runs mutate on the current record and persists the result as one
	// atomic read-modify-write. Mutations of one id are serialized; an error
	// from mutate aborts the write.
	Update(ctx context.Context, id entity.ID, mutate func(dep *entity.Deployment) error) (*entity.Deployment, error)
}

type deploymentRepositoryImpl struct {
	db    *gorm.DB
	locks keylock.Map[entity.ID]
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepositoryImpl{db: db}
}

// Create a new deployment record.
func (r *deploymentRepositoryImpl) Create(ctx context.Context, dep *entity.Deployment) (*entity.Deployment, error) {
	var model Deployment
	model.FromEntity(dep)
	if err := gorm.G[Deployment](r.db).Create(ctx, &model); err != nil {
		return nil, wrapErr("create deployment", err)
	}
	return model.ToEntity(), nil
}

// GetByID finds deployment by id.
func (r *deploymentRepositoryImpl) GetByID(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	found, err := gorm.G[Deployment](r.db).Where("id = ?", id.String()).First(ctx)
	if err != nil {
		return nil, wrapErr("get deployment "+id.String(), err)
	}
	return found.ToEntity(), nil
}

// List returns all deployments in creation order.
func (r *deploymentRepositoryImpl) List(ctx context.Context) ([]*entity.Deployment, error) {
	founds, err := gorm.G[Deployment](r.db).Order("created_at, id").Find(ctx)
	if err != nil {
		return nil, wrapErr("list deployments", err)
	}
	res := make([]*entity.Deployment, len(founds))
	for i, f := range founds {
		res[i] = f.ToEntity()
	}
	return res, nil
}

// Update applies mutate under the per-id writer lock inside a transaction.
func (r *deploymentRepositoryImpl) Update(ctx context.Context, id entity.ID, mutate func(dep *entity.Deployment) error) (*entity.Deployment, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	var updated *entity.Deployment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := gorm.G[Deployment](tx).Where("id = ?", id.String()).First(ctx)
		if err != nil {
			return err
		}
		dep := found.ToEntity()
		if err := mutate(dep); err != nil {
			return err
		}
		dep.ID = id
		var model Deployment
		model.FromEntity(dep)
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		updated = model.ToEntity()
		return nil
	})
	if err != nil {
		return nil, wrapErr("update deployment "+id.String(), err)
	}
	return updated, nil
}
