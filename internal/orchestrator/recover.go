package orchestrator

import (
	"context"
	"maps"
	"reflect"

	"github.com/yz4230/deployhost/internal/entity"
)

// Recover reconciles every record with its event log after a restart. The
// log wins on divergence. Deployments left mid-pipeline by a previous process
// are failed as interrupted, since nothing drives them anymore.
func (c *Controller) Recover(ctx context.Context) error {
	deployments, err := c.deployments.List(ctx)
	if err != nil {
		return err
	}
	for _, d := range deployments {
		log := c.log.With().Str("deployment_id", d.ID.String()).Logger()
		dctx := log.WithContext(ctx)

		evs, err := c.events.Read(ctx, d.ID, 0)
		if err != nil {
			return err
		}
		replayed, err := entity.Replay(*d, evs)
		if err != nil {
			log.Error().Err(err).Msg("event log does not replay, leaving record as is")
			continue
		}
		if diverged(d, replayed) {
			log.Warn().
				Str("record_status", string(d.Status)).
				Str("log_status", string(replayed.Status)).
				Msg("record diverged from event log, restoring from log")
			if _, err := c.deployments.Update(ctx, d.ID, func(cur *entity.Deployment) error {
				cur.Status = replayed.Status
				cur.Outputs = replayed.Outputs
				cur.Error = replayed.Error
				cur.FailureKind = replayed.FailureKind
				cur.UpdatedAt = replayed.UpdatedAt
				return nil
			}); err != nil {
				return err
			}
		}

		if replayed.Status.IsTerminal() || c.running(d.ID) {
			continue
		}
		log.Warn().Str("status", string(replayed.Status)).Msg("deployment was interrupted by a restart")
		c.fail(dctx, d.ID, entity.ErrorPayload{
			Kind:   entity.FailureInterrupted,
			Phase:  string(replayed.Status),
			Reason: "orchestrator restarted while the deployment was " + string(replayed.Status),
			Hint:   "start a new deployment or destroy this one",
		})
	}
	return nil
}

func (c *Controller) running(id entity.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[id] != nil
}

func diverged(record, replayed *entity.Deployment) bool {
	if record.Status != replayed.Status || record.Error != replayed.Error || record.FailureKind != replayed.FailureKind {
		return true
	}
	if len(record.Outputs) == 0 && len(replayed.Outputs) == 0 {
		return false
	}
	return !maps.EqualFunc(record.Outputs, replayed.Outputs, func(a, b any) bool {
		return reflect.DeepEqual(a, b)
	})
}
