// Package deploymentrepotest provides contract tests for
// [repository.DeploymentRepository] implementations.
package deploymentrepotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/repository"
)

// Factory creates a fresh [repository.DeploymentRepository] for each test.
type Factory func(t *testing.T) repository.DeploymentRepository

// Run exercises the [repository.DeploymentRepository] contract.
func Run(t *testing.T, factory Factory) {
	sample := func(offset time.Duration) *entity.Deployment {
		return entity.NewDeployment(entity.Parameters{
			Instructions: "deploy this flask app",
			Repo:         "https://github.com/example/app",
			Region:       "us-west-2",
			TemplateDir:  "/srv/templates/ec2",
			Vars:         map[string]any{"instance_type": "t3.micro"},
			Tags:         map[string]string{"team": "infra"},
		}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset))
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample(0)

		_, err := repo.Create(ctx, d)
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
		assert.Equal(t, entity.DeploymentStatusQueued, got.Status)
		assert.Equal(t, "t3.micro", got.Parameters.Vars["instance_type"])
		assert.Equal(t, "infra", got.Parameters.Tags["team"])
		assert.Empty(t, got.Outputs)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample(0)
		_, err := repo.Create(ctx, d)
		require.NoError(t, err)
		_, err = repo.Create(ctx, d)
		assert.ErrorIs(t, err, entity.ErrConflict)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.GetByID(context.Background(), entity.NewID())
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample(0)
		_, _ = repo.Create(ctx, d)

		got, err := repo.Update(ctx, d.ID, func(dep *entity.Deployment) error {
			dep.Status = entity.DeploymentStatusInitializing
			dep.Outputs = map[string]any{"application_url": "http://example.com"}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, entity.DeploymentStatusInitializing, got.Status)

		got, err = repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.DeploymentStatusInitializing, got.Status)
		assert.Equal(t, "http://example.com", got.Outputs["application_url"])
	})

	t.Run("UpdateAbortsOnMutationError", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample(0)
		_, _ = repo.Create(ctx, d)

		boom := errors.New("boom")
		_, err := repo.Update(ctx, d.ID, func(dep *entity.Deployment) error {
			dep.Status = entity.DeploymentStatusFailed
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, _ := repo.GetByID(ctx, d.ID)
		assert.Equal(t, entity.DeploymentStatusQueued, got.Status)
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Update(context.Background(), entity.NewID(), func(*entity.Deployment) error { return nil })
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("ConcurrentUpdatesOfDifferentFields", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample(0)
		_, _ = repo.Create(ctx, d)

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Update(ctx, d.ID, func(dep *entity.Deployment) error {
					if i%2 == 0 {
						dep.Error = "status writer"
					} else {
						if dep.Outputs == nil {
							dep.Outputs = map[string]any{}
						}
						dep.Outputs["n"] = float64(len(dep.Outputs))
						dep.Outputs[fmt.Sprintf("k%d", i)] = "x"
					}
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "status writer", got.Error)
		// ten outputs writers each added one distinct key, plus "n"
		assert.Len(t, got.Outputs, 11)
	})

	t.Run("ListInCreationOrder", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d1, d2, d3 := sample(0), sample(time.Second), sample(2*time.Second)
		for _, d := range []*entity.Deployment{d2, d3, d1} {
			_, err := repo.Create(ctx, d)
			require.NoError(t, err)
		}

		got, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []entity.ID{d1.ID, d2.ID, d3.ID}, []entity.ID{got[0].ID, got[1].ID, got[2].ID})
	})
}
