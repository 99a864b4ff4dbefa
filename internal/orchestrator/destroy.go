package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/supervisor"
	"github.com/yz4230/deployhost/internal/terraform"
)

// destroy tears down whatever the deployment provisioned. It runs after any
// provisioning pipeline of the same deployment has returned.
func (c *Controller) destroy(ctx context.Context, id entity.ID, cancelledPhase string) {
	log := zerolog.Ctx(ctx)

	cur, err := c.deployments.GetByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("failed to load deployment for destroy")
		return
	}
	if _, err := c.transition(ctx, id, entity.EventKindDestroyStart, entity.DestroyStartPayload{
		From:           cur.Status,
		CancelledPhase: cancelledPhase,
	}); err != nil {
		log.Error().Err(err).Msg("failed to start destroy")
		return
	}

	if c.workspaces.Exists(id) {
		dir := c.workspaces.Dir(id)
		for _, step := range []func(supervisor.LineFunc) supervisor.Result{
			func(onLine supervisor.LineFunc) supervisor.Result { return c.tool.Init(ctx, dir, onLine) },
			func(onLine supervisor.LineFunc) supervisor.Result { return c.tool.Destroy(ctx, dir, onLine) },
		} {
			res := step(c.lineRecorder(ctx, id, terraform.PhaseDestroy))
			if res.Outcome == supervisor.Succeeded {
				continue
			}
			reason := fmt.Sprintf("destroy exited with code %d", res.ExitCode)
			kind := entity.FailureDestroy
			if res.Outcome == supervisor.Cancelled {
				reason = fmt.Sprintf("destroy cancelled: %v", context.Cause(ctx))
				kind = entity.FailureInterrupted
			} else if res.ExitCode < 0 && res.Err != nil {
				reason = fmt.Sprintf("destroy failed: %v", res.Err)
			}
			c.fail(ctx, id, entity.ErrorPayload{
				Kind:      kind,
				Phase:     terraform.PhaseDestroy,
				Reason:    reason,
				Hint:      hintDestroy,
				ExitCode:  res.ExitCode,
				LastLines: res.Lines,
			})
			return
		}
	} else {
		log.Info().Msg("no workspace, nothing was provisioned")
	}

	if _, err := c.transition(context.WithoutCancel(ctx), id, entity.EventKindDestroyDone, entity.DestroyDonePayload{OK: true}); err != nil {
		log.Error().Err(err).Msg("failed to record destroy")
		return
	}
	log.Info().Msg("deployment destroyed")
}
