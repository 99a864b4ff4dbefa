package usecase

import (
	"context"
	"iter"

	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/eventlog"
)

type ListDeploymentEventsUsecase interface {
	// Execute returns the events after sequence from that are stored now.
	Execute(ctx context.Context, id entity.ID, from int64) ([]*entity.Event, error)
	// Follow keeps yielding events until the current pipeline has ended.
	Follow(ctx context.Context, id entity.ID, from int64) iter.Seq2[*entity.Event, error]
}

type listDeploymentEventsUsecaseImpl struct {
	events *eventlog.Log
}

// Execute implements ListDeploymentEventsUsecase.
func (l *listDeploymentEventsUsecaseImpl) Execute(ctx context.Context, id entity.ID, from int64) ([]*entity.Event, error) {
	return l.events.Read(ctx, id, max(from, 0))
}

// Follow implements ListDeploymentEventsUsecase.
func (l *listDeploymentEventsUsecaseImpl) Follow(ctx context.Context, id entity.ID, from int64) iter.Seq2[*entity.Event, error] {
	return l.events.Follow(ctx, id, max(from, 0))
}

func NewListDeploymentEventsUsecase(injector *do.Injector) (ListDeploymentEventsUsecase, error) {
	return &listDeploymentEventsUsecaseImpl{
		events: do.MustInvoke[*eventlog.Log](injector),
	}, nil
}
