package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/config"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/usecase"
)

// streamRun prints the events of id after cursor while this process runs a
// pipeline for it, and returns the record once that pipeline has finished.
func streamRun(ctx context.Context, injector *do.Injector, w io.Writer, id entity.ID, cursor int64) (*entity.Deployment, error) {
	controller := do.MustInvoke[*orchestrator.Controller](injector)
	events := do.MustInvoke[usecase.ListDeploymentEventsUsecase](injector)
	interval := do.MustInvoke[*config.Config](injector).Follow.PollInterval.Std()

	followCtx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()
	type result struct {
		d   *entity.Deployment
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := controller.Wait(ctx, id)
		done <- result{d, err}
		stopFollow()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for ev, err := range events.Follow(followCtx, id, cursor) {
			if err != nil {
				if followCtx.Err() != nil && ctx.Err() == nil {
					break
				}
				return nil, err
			}
			printEvent(w, ev)
			cursor = ev.Sequence
		}

		select {
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			rest, err := events.Execute(ctx, id, cursor)
			if err != nil {
				return nil, err
			}
			for _, ev := range rest {
				printEvent(w, ev)
			}
			return r.d, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// finish prints the final state of d and turns a failed deployment into a
// command error.
func finish(w io.Writer, d *entity.Deployment, outputKey string) error {
	snap := d.Snapshot(outputKey)
	fmt.Fprintf(w, "\ndeployment %s is %s\n", d.ID, statusColor(d.Status).Sprint(d.Status))
	if snap.PublicURL != "" && d.Status == entity.DeploymentStatusHealthy {
		fmt.Fprintf(w, "public url: %s\n", snap.PublicURL)
	}
	if d.Status == entity.DeploymentStatusFailed {
		return errors.New(d.Error)
	}
	return nil
}
