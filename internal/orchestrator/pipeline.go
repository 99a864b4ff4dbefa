package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/supervisor"
	"github.com/yz4230/deployhost/internal/terraform"
	"github.com/yz4230/deployhost/internal/verify"
)

const (
	phaseBootstrap = "bootstrap"
	phaseVerify    = "verify"

	hintToolOutput = "check the event log for the provisioning tool output"
	hintVerify     = "service not up; check bootstrap or security group"
	hintDestroy    = "resources may remain; fix the cause and destroy again or clean up manually"
)

// provision runs init, plan, apply, output, settle and verify. Any failure
// ends the pipeline with ERROR.
func (c *Controller) provision(ctx context.Context, d *entity.Deployment) {
	log := zerolog.Ctx(ctx)
	id := d.ID

	dir, err := c.workspaces.Prepare(ctx, d)
	if err != nil {
		c.fail(ctx, id, entity.ErrorPayload{
			Kind:   entity.FailureProvisioning,
			Phase:  terraform.PhaseInit,
			Reason: err.Error(),
			Hint:   "check the template directory",
		})
		return
	}

	if !c.phase(ctx, id, terraform.PhaseInit, func(onLine supervisor.LineFunc) supervisor.Result {
		return c.tool.Init(ctx, dir, onLine)
	}) {
		return
	}

	if !c.advance(ctx, id, entity.EventKindPlan, entity.PlanPayload{Workspace: dir}) {
		return
	}
	var summary entity.PlanSummary
	if !c.phase(ctx, id, terraform.PhasePlan, func(onLine supervisor.LineFunc) supervisor.Result {
		var res supervisor.Result
		summary, res = c.tool.Plan(ctx, dir, onLine)
		return res
	}) {
		return
	}
	if !summary.Parsed {
		log.Warn().Msg("plan summary not found in output, using counted resources")
	}

	if !c.advance(ctx, id, entity.EventKindApplyStart, entity.ApplyStartPayload{Plan: summary}) {
		return
	}
	if !c.phase(ctx, id, terraform.PhaseApply, func(onLine supervisor.LineFunc) supervisor.Result {
		return c.tool.Apply(ctx, dir, onLine)
	}) {
		return
	}

	outputs, res, err := c.tool.Outputs(ctx, dir)
	if err != nil {
		if c.interrupted(ctx, id, res.Outcome == supervisor.Cancelled) {
			return
		}
		c.fail(ctx, id, entity.ErrorPayload{
			Kind:      entity.FailureProvisioning,
			Phase:     terraform.PhaseOutput,
			Reason:    fmt.Sprintf("failed to read outputs: %v", err),
			Hint:      hintToolOutput,
			ExitCode:  res.ExitCode,
			LastLines: res.Lines,
		})
		return
	}
	if !c.advance(ctx, id, entity.EventKindApplyDone, entity.ApplyDonePayload{Outputs: outputs}) {
		return
	}

	endpoint, _ := outputs[c.cfg.OutputKey].(string)
	if endpoint == "" || endpoint == terraform.Redacted {
		c.fail(ctx, id, entity.ErrorPayload{
			Kind:   entity.FailureProvisioning,
			Phase:  phaseBootstrap,
			Reason: fmt.Sprintf("output %q is missing, nothing to verify", c.cfg.OutputKey),
			Hint:   "the template must declare the endpoint output",
		})
		return
	}
	url := verify.NormalizeURL(endpoint)

	if c.cfg.SettleDelay > 0 {
		log.Debug().Dur("settle_delay", c.cfg.SettleDelay).Msg("waiting for endpoint to settle")
		timer := time.NewTimer(c.cfg.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.interrupted(ctx, id, true)
			return
		case <-timer.C:
		}
	}

	if !c.advance(ctx, id, entity.EventKindBootstrapWait, entity.BootstrapWaitPayload{
		Endpoint:    url,
		SettleDelay: c.cfg.SettleDelay.String(),
		Timeout:     c.cfg.VerifyTimeout.String(),
	}) {
		return
	}

	vres, err := c.verifier.Verify(ctx, url, c.cfg.VerifyTimeout, c.cfg.VerifyInterval)
	if err != nil {
		c.interrupted(ctx, id, true)
		return
	}
	payload := entity.VerifyPayload{
		URL:        vres.URL,
		StatusCode: vres.StatusCode,
		Attempts:   vres.Attempts,
		Elapsed:    vres.Elapsed.Round(time.Millisecond).String(),
	}
	if vres.Outcome != verify.Success {
		var lastLines []string
		if vres.LastError != nil {
			payload.LastError = vres.LastError.Error()
			lastLines = []string{payload.LastError}
		}
		c.record(ctx, id, entity.EventKindVerifyTimeout, payload)
		c.fail(ctx, id, entity.ErrorPayload{
			Kind:      entity.FailureVerification,
			Phase:     phaseVerify,
			Reason:    fmt.Sprintf("%s did not become healthy within %s", url, c.cfg.VerifyTimeout),
			Hint:      hintVerify,
			LastLines: lastLines,
		})
		return
	}

	c.record(ctx, id, entity.EventKindVerifyOK, payload)
	if !c.advance(ctx, id, entity.EventKindDone, entity.DonePayload{PublicURL: url}) {
		return
	}
	log.Info().Str("url", url).Int("attempts", vres.Attempts).Msg("deployment healthy")
}

// phase runs one tool invocation, streaming its lines into the log. It
// reports whether the pipeline may continue.
func (c *Controller) phase(ctx context.Context, id entity.ID, name string, fn func(onLine supervisor.LineFunc) supervisor.Result) bool {
	log := zerolog.Ctx(ctx).With().Str("phase", name).Logger()
	log.Info().Msg("phase started")
	start := time.Now()

	res := fn(c.lineRecorder(ctx, id, name))
	log.Info().
		Stringer("outcome", res.Outcome).
		Int("exit_code", res.ExitCode).
		Dur("elapsed", time.Since(start)).
		Msg("phase finished")

	switch res.Outcome {
	case supervisor.Succeeded:
		return true
	case supervisor.Cancelled:
		c.interrupted(ctx, id, true)
		return false
	}
	reason := fmt.Sprintf("%s exited with code %d", name, res.ExitCode)
	if res.ExitCode < 0 && res.Err != nil {
		reason = fmt.Sprintf("%s failed: %v", name, res.Err)
	}
	c.fail(ctx, id, entity.ErrorPayload{
		Kind:      entity.FailureProvisioning,
		Phase:     name,
		Reason:    reason,
		Hint:      hintToolOutput,
		ExitCode:  res.ExitCode,
		LastLines: res.Lines,
	})
	return false
}

// lineRecorder forwards tool output into the log. Lines written while the
// phase is being cancelled are still recorded.
func (c *Controller) lineRecorder(ctx context.Context, id entity.ID, phase string) supervisor.LineFunc {
	ctx = context.WithoutCancel(ctx)
	return func(stream entity.Stream, line string) {
		c.record(ctx, id, entity.EventKindApplyOutputLine, entity.OutputLinePayload{
			Phase:  phase,
			Stream: stream,
			Line:   line,
		})
	}
}

// advance moves the pipeline forward and reports whether it may continue.
func (c *Controller) advance(ctx context.Context, id entity.ID, kind entity.EventKind, payload any) bool {
	_, err := c.transition(ctx, id, kind, payload)
	if err == nil {
		return true
	}
	if c.interrupted(ctx, id, ctx.Err() != nil) {
		return false
	}
	zerolog.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("failed to record transition")
	if errors.Is(err, entity.ErrConflict) {
		// someone else moved the record; this pipeline no longer owns it
		return false
	}
	c.fail(ctx, id, entity.ErrorPayload{
		Kind:   entity.FailureStorage,
		Phase:  string(kind),
		Reason: err.Error(),
	})
	return false
}

// interrupted handles a pipeline stopped through its context. A destroy
// request takes over silently; a shutdown is recorded as an interruption.
// It reports whether the stop was handled.
func (c *Controller) interrupted(ctx context.Context, id entity.ID, cancelled bool) bool {
	if !cancelled || ctx.Err() == nil {
		return false
	}
	cause := context.Cause(ctx)
	log := zerolog.Ctx(ctx)
	if errors.Is(cause, errDestroyRequested) {
		log.Info().Msg("pipeline cancelled for destroy")
		return true
	}
	log.Warn().Err(cause).Msg("pipeline interrupted")
	c.fail(ctx, id, entity.ErrorPayload{
		Kind:   entity.FailureInterrupted,
		Reason: cause.Error(),
		Hint:   "start a new deployment or destroy this one",
	})
	return true
}

// fail records ERROR, moving the deployment to failed. It runs on a
// context detached from cancellation so the failure is never lost.
func (c *Controller) fail(ctx context.Context, id entity.ID, p entity.ErrorPayload) {
	ctx = context.WithoutCancel(ctx)
	log := zerolog.Ctx(ctx)
	if _, err := c.transition(ctx, id, entity.EventKindError, p); err != nil {
		log.Error().Err(err).Str("reason", p.Reason).Msg("failed to record failure")
		return
	}
	log.Error().Str("kind", string(p.Kind)).Str("phase", p.Phase).Str("reason", p.Reason).Msg("deployment failed")
}
