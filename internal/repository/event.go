package repository

import (
	"context"
	"time"

	"github.com/yz4230/deployhost/internal/entity"
	"gorm.io/gorm"
)

// EventRepository persists the append-only event log of every deployment.
type EventRepository interface {
	// Append stores a new event with the next sequence number of its
	// deployment. Callers serialize appends per deployment.
	Append(ctx context.Context, id entity.ID, kind entity.EventKind, payload []byte, at time.Time) (*entity.Event, error)
	ListAfter(ctx context.Context, id entity.ID, from int64) ([]*entity.Event, error)
	Last(ctx context.Context, id entity.ID) (*entity.Event, error)
}

type eventRepositoryImpl struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepositoryImpl{db: db}
}

func (r *eventRepositoryImpl) Append(ctx context.Context, id entity.ID, kind entity.EventKind, payload []byte, at time.Time) (*entity.Event, error) {
	var created *entity.Event
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&Event{}).
			Where("deployment_id = ?", id.String()).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		model := Event{}
		model.FromEntity(&entity.Event{
			DeploymentID: id,
			Sequence:     last + 1,
			Timestamp:    at,
			Kind:         kind,
			Payload:      payload,
		})
		if err := gorm.G[Event](tx).Create(ctx, &model); err != nil {
			return err
		}
		created = model.ToEntity()
		return nil
	})
	if err != nil {
		return nil, wrapErr("append event", err)
	}
	return created, nil
}

// ListAfter returns the events of id with sequence > from in order.
func (r *eventRepositoryImpl) ListAfter(ctx context.Context, id entity.ID, from int64) ([]*entity.Event, error) {
	founds, err := gorm.G[Event](r.db).
		Where("deployment_id = ? AND sequence > ?", id.String(), from).
		Order("sequence").
		Find(ctx)
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	res := make([]*entity.Event, len(founds))
	for i, f := range founds {
		res[i] = f.ToEntity()
	}
	return res, nil
}

// Last returns the most recent event of id, or nil when the log is empty.
func (r *eventRepositoryImpl) Last(ctx context.Context, id entity.ID) (*entity.Event, error) {
	founds, err := gorm.G[Event](r.db).
		Where("deployment_id = ?", id.String()).
		Order("sequence DESC").
		Limit(1).
		Find(ctx)
	if err != nil {
		return nil, wrapErr("last event", err)
	}
	if len(founds) == 0 {
		return nil, nil
	}
	return founds[0].ToEntity(), nil
}
