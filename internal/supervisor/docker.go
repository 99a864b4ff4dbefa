package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/go-archive"
	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
)

const (
	DefaultImage       = "hashicorp/terraform:1.9"
	containerWorkspace = "/workspace"
)

// DockerRunner runs the provisioning tool inside a throwaway container. The
// working directory is copied into the container before the phase and copied
// back afterwards, so tool state survives between phases exactly as with
// LocalRunner.
type DockerRunner struct {
	cli         *client.Client
	Image       string
	GracePeriod time.Duration
	TailLines   int
	Logger      zerolog.Logger
}

func NewDockerRunner(imageRef string, grace time.Duration, tailLines int, logger zerolog.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if imageRef == "" {
		imageRef = DefaultImage
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &DockerRunner{cli: cli, Image: imageRef, GracePeriod: grace, TailLines: tailLines, Logger: logger}, nil
}

func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

func (r *DockerRunner) Run(ctx context.Context, c Command, onLine LineFunc) Result {
	log := r.Logger.With().Str("command", c.String()).Str("image", r.Image).Logger()
	sink := newTail(r.TailLines, onLine)
	failed := func(err error) Result {
		if ctx.Err() != nil {
			return Result{Outcome: Cancelled, ExitCode: -1, Lines: sink.snapshot(), Err: context.Cause(ctx)}
		}
		log.Error().Err(err).Msg("container phase failed")
		sink.add(entity.StreamStderr, err.Error())
		return Result{Outcome: Failed, ExitCode: -1, Lines: sink.snapshot(), Err: err}
	}

	if err := r.ensureImage(ctx); err != nil {
		return failed(err)
	}

	// cleanup must run even when ctx is cancelled
	bg := context.WithoutCancel(ctx)
	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      r.Image,
			Entrypoint: []string{filepath.Base(c.Path)},
			Cmd:        c.Args,
			Env:        append([]string{"TF_IN_AUTOMATION=1"}, c.Env...),
			WorkingDir: containerWorkspace,
			Labels: map[string]string{
				"deployhost.enabled":   "true",
				"deployhost.workspace": c.Dir,
			},
		},
		&container.HostConfig{}, nil, nil, "")
	if err != nil {
		return failed(fmt.Errorf("failed to create container: %w", err))
	}
	defer func() {
		if err := r.cli.ContainerRemove(bg, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Warn().Err(err).Str("container", resp.ID).Msg("failed to remove container")
		}
	}()

	if err := r.copyIn(ctx, resp.ID, c.Dir); err != nil {
		return failed(err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return failed(fmt.Errorf("failed to start container: %w", err))
	}
	log.Debug().Str("container", resp.ID).Msg("started container")

	stdout := &lineWriter{stream: entity.StreamStdout, sink: sink}
	stderr := &lineWriter{stream: entity.StreamStderr, sink: sink}
	pumpDone := make(chan error, 1)
	go func() {
		logs, err := r.cli.ContainerLogs(bg, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
		if err != nil {
			pumpDone <- err
			return
		}
		defer logs.Close()
		_, err = stdcopy.StdCopy(stdout, stderr, logs)
		pumpDone <- err
	}()

	statusCh, errCh := r.cli.ContainerWait(bg, resp.ID, container.WaitConditionNotRunning)
	cancelled := false
	select {
	case <-ctx.Done():
		cancelled = true
		secs := int(r.GracePeriod.Seconds())
		log.Info().Str("container", resp.ID).Msg("stopping container")
		if err := r.cli.ContainerStop(bg, resp.ID, container.StopOptions{Timeout: &secs}); err != nil {
			log.Error().Err(err).Msg("failed to stop container")
		}
	case <-statusCh:
	case <-errCh:
	}

	exitCode := -1
	inspect, err := r.cli.ContainerInspect(bg, resp.ID)
	if err == nil && inspect.State != nil {
		exitCode = inspect.State.ExitCode
	}
	if err := <-pumpDone; err != nil {
		log.Warn().Err(err).Msg("container log stream ended with error")
	}
	stdout.Flush()
	stderr.Flush()

	if err := r.copyOut(bg, resp.ID, c.Dir); err != nil {
		log.Error().Err(err).Msg("failed to copy workspace back")
		if !cancelled && exitCode == 0 {
			return failed(err)
		}
	}

	res := Result{ExitCode: exitCode, Lines: sink.snapshot()}
	switch {
	case cancelled:
		res.Outcome = Cancelled
		res.Err = context.Cause(ctx)
	case exitCode == 0:
		res.Outcome = Succeeded
	default:
		res.Outcome = Failed
		res.Err = fmt.Errorf("container exited with code %d", exitCode)
	}
	log.Debug().Int("exit_code", exitCode).Stringer("outcome", res.Outcome).Msg("container finished")
	return res
}

func (r *DockerRunner) ensureImage(ctx context.Context) error {
	if _, err := r.cli.ImageInspect(ctx, r.Image); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image: %w", err)
	}
	r.Logger.Info().Str("image", r.Image).Msg("pulling image")
	rc, err := r.cli.ImagePull(ctx, r.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer rc.Close()
	dec := json.NewDecoder(rc)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to decode pull progress: %w", err)
		}
		if jm.Error != nil {
			return fmt.Errorf("failed to pull image: %w", jm.Error)
		}
		if jm.Status != "" {
			r.Logger.Debug().Str("image", r.Image).Msg(jm.Status)
		}
	}
	return nil
}

func (r *DockerRunner) copyIn(ctx context.Context, id, dir string) error {
	tar, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create tar archive: %w", err)
	}
	defer tar.Close()
	if err := r.cli.CopyToContainer(ctx, id, containerWorkspace, tar, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy workspace into container: %w", err)
	}
	return nil
}

func (r *DockerRunner) copyOut(ctx context.Context, id, dir string) error {
	rc, _, err := r.cli.CopyFromContainer(ctx, id, containerWorkspace)
	if err != nil {
		return fmt.Errorf("failed to copy workspace from container: %w", err)
	}
	defer rc.Close()
	return archive.Untar(rc, filepath.Dir(dir), &archive.TarOptions{
		NoLchown:    true,
		RebaseNames: map[string]string{filepath.Base(containerWorkspace): filepath.Base(dir)},
	})
}
