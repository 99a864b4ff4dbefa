package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/repository"
	"github.com/yz4230/deployhost/internal/repository/deploymentrepotest"
)

func openTestDB(t *testing.T) *repository.DB {
	t.Helper()
	db, err := repository.NewSQLiteDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close(db) })
	return db
}

func TestDeploymentRepository(t *testing.T) {
	deploymentrepotest.Run(t, func(t *testing.T) repository.DeploymentRepository {
		return repository.NewDeploymentRepository(openTestDB(t))
	})
}

func TestEventRepositorySequences(t *testing.T) {
	db := openTestDB(t)
	events := repository.NewEventRepository(db)
	ctx := context.Background()
	a, b := entity.NewID(), entity.NewID()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := events.Append(ctx, a, entity.EventKindApplyOutputLine, []byte(`{"line":"a"}`), time.Now())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := events.Append(ctx, b, entity.EventKindApplyOutputLine, []byte(`{"line":"b"}`), time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range []entity.ID{a, b} {
		got, err := events.ListAfter(ctx, id, 0)
		require.NoError(t, err)
		require.Len(t, got, 10)
		for i, ev := range got {
			assert.Equal(t, int64(i+1), ev.Sequence)
			assert.Equal(t, id, ev.DeploymentID)
		}
	}

	tail, err := events.ListAfter(ctx, a, 7)
	require.NoError(t, err)
	assert.Len(t, tail, 3)

	last, err := events.Last(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(10), last.Sequence)

	none, err := events.Last(ctx, entity.NewID())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := repository.NewSQLiteDB(dir)
	require.NoError(t, err)
	deps := repository.NewDeploymentRepository(db)
	d := entity.NewDeployment(entity.Parameters{Repo: "r", Region: "us-east-1", TemplateDir: "/t"}, time.Now())
	_, err = deps.Create(ctx, d)
	require.NoError(t, err)
	_, err = repository.NewEventRepository(db).Append(ctx, d.ID, entity.EventKindInit, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.NoError(t, repository.Close(db))

	db, err = repository.NewSQLiteDB(dir)
	require.NoError(t, err)
	defer repository.Close(db)
	got, err := repository.NewDeploymentRepository(db).GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "r", got.Parameters.Repo)
	evs, err := repository.NewEventRepository(db).ListAfter(ctx, d.ID, 0)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
