package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
)

// LocalRunner runs commands as child processes of the orchestrator, each in
// its own process group so provider plugins spawned by the tool are
// signalled together with it.
type LocalRunner struct {
	GracePeriod time.Duration
	TailLines   int
	Logger      zerolog.Logger
}

func NewLocalRunner(grace time.Duration, tailLines int, logger zerolog.Logger) *LocalRunner {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &LocalRunner{GracePeriod: grace, TailLines: tailLines, Logger: logger}
}

func (r *LocalRunner) Run(ctx context.Context, c Command, onLine LineFunc) Result {
	log := r.Logger.With().Str("command", c.String()).Str("dir", c.Dir).Logger()
	sink := newTail(r.TailLines, onLine)
	stdout := &lineWriter{stream: entity.StreamStdout, sink: sink}
	stderr := &lineWriter{stream: entity.StreamStderr, sink: sink}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcess(cmd)
	// on cancellation: SIGTERM to the group, then after WaitDelay the
	// runtime kills the leader and closes the pipes
	cmd.Cancel = func() error { return signalGroup(cmd, false) }
	cmd.WaitDelay = r.GracePeriod

	log.Debug().Msg("starting process")
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: Cancelled, ExitCode: -1, Err: context.Cause(ctx)}
		}
		log.Error().Err(err).Msg("failed to start process")
		sink.add(entity.StreamStderr, err.Error())
		return Result{Outcome: Failed, ExitCode: -1, Lines: sink.snapshot(), Err: err}
	}

	start := time.Now()
	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	// reap anything left in the group, whatever the outcome
	_ = signalGroup(cmd, true)

	res := Result{ExitCode: cmd.ProcessState.ExitCode(), Lines: sink.snapshot(), Err: err}
	switch {
	case ctx.Err() != nil:
		res.Outcome = Cancelled
		res.Err = context.Cause(ctx)
	case err == nil:
		res.Outcome = Succeeded
	default:
		res.Outcome = Failed
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
		}
	}

	log.Debug().
		Int("pid", cmd.Process.Pid).
		Int("exit_code", res.ExitCode).
		Stringer("outcome", res.Outcome).
		Dur("elapsed", time.Since(start)).
		Msg("process finished")
	return res
}
