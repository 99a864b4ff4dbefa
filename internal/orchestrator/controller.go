// Package orchestrator owns the deployment lifecycle. It sequences the
// provisioning phases, verification and destroy for every deployment, one
// pipeline per deployment at a time, and records every step in the event log
// before projecting it onto the deployment record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/eventlog"
	"github.com/yz4230/deployhost/internal/keylock"
	"github.com/yz4230/deployhost/internal/repository"
	"github.com/yz4230/deployhost/internal/storage"
	"github.com/yz4230/deployhost/internal/terraform"
	"github.com/yz4230/deployhost/internal/verify"
)

var (
	errDestroyRequested = errors.New("destroy requested")
	errShutdown         = errors.New("orchestrator shutting down")
)

// Verifier checks that a provisioned endpoint actually serves traffic.
type Verifier interface {
	Verify(ctx context.Context, endpoint string, timeout, interval time.Duration) (verify.Result, error)
}

type Config struct {
	OutputKey      string
	SettleDelay    time.Duration
	VerifyTimeout  time.Duration
	VerifyInterval time.Duration
}

type runKind int

const (
	runProvision runKind = iota
	runDestroy
)

type run struct {
	kind   runKind
	cancel context.CancelCauseFunc
	done   chan struct{}
}

type Controller struct {
	deployments repository.DeploymentRepository
	events      *eventlog.Log
	workspaces  storage.WorkspaceStorage
	tool        *terraform.Tool
	verifier    Verifier
	cfg         Config
	log         zerolog.Logger
	now         func() time.Time

	baseCtx context.Context
	stop    context.CancelCauseFunc
	wg      sync.WaitGroup

	locks keylock.Map[entity.ID]

	mu   sync.Mutex
	runs map[entity.ID]*run
}

func New(
	deployments repository.DeploymentRepository,
	events *eventlog.Log,
	workspaces storage.WorkspaceStorage,
	tool *terraform.Tool,
	verifier Verifier,
	cfg Config,
	log zerolog.Logger,
) *Controller {
	if cfg.OutputKey == "" {
		cfg.OutputKey = "application_url"
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = verify.DefaultTimeout
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = verify.DefaultInterval
	}
	ctx, stop := context.WithCancelCause(context.Background())
	return &Controller{
		deployments: deployments,
		events:      events,
		workspaces:  workspaces,
		tool:        tool,
		verifier:    verifier,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		baseCtx:     ctx,
		stop:        stop,
		runs:        make(map[entity.ID]*run),
	}
}

// OutputKey is the output holding the public endpoint of a deployment.
func (c *Controller) OutputKey() string {
	return c.cfg.OutputKey
}

// Start creates a deployment, records INIT and launches its provisioning
// pipeline in the background.
func (c *Controller) Start(ctx context.Context, params entity.Parameters) (*entity.Deployment, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	d := entity.NewDeployment(params, c.now().UTC())

	// The run is registered before the record exists so a destroy that sees
	// the record also sees its pipeline. The pipeline waits for INIT.
	var (
		started *entity.Deployment
		err     error
	)
	initialized := make(chan struct{})
	c.mu.Lock()
	if c.baseCtx.Err() != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", entity.ErrInternal, errShutdown)
	}
	c.launchLocked(d.ID, runProvision, nil, func(ctx context.Context) {
		<-initialized
		if err != nil || c.interrupted(ctx, d.ID, true) {
			return
		}
		c.provision(ctx, started)
	})
	c.mu.Unlock()

	started, err = c.create(ctx, d)
	close(initialized)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("deployment_id", d.ID.String()).Msg("deployment started")
	return started, nil
}

func (c *Controller) create(ctx context.Context, d *entity.Deployment) (*entity.Deployment, error) {
	d, err := c.deployments.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	return c.transition(ctx, d.ID, entity.EventKindInit, entity.InitPayload{Parameters: d.Parameters})
}

// Destroy accepts a destroy request. Any in-flight provisioning pipeline is
// cancelled and awaited before the destroy phase starts.
func (c *Controller) Destroy(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := c.runs[id]
	if prev != nil && prev.kind == runDestroy {
		return nil, fmt.Errorf("%w: deployment %s is already being destroyed", entity.ErrConflict, id)
	}
	if !d.Status.Destroyable() {
		return nil, fmt.Errorf("%w: deployment %s is %s", entity.ErrConflict, id, d.Status)
	}
	if prev == nil && d.Status.InFlight() {
		return nil, fmt.Errorf("%w: deployment %s is %s in another process", entity.ErrConflict, id, d.Status)
	}
	if c.baseCtx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrInternal, errShutdown)
	}

	cancelled := ""
	if prev != nil {
		cancelled = string(d.Status)
		prev.cancel(errDestroyRequested)
	}
	c.launchLocked(id, runDestroy, prev, func(ctx context.Context) {
		c.destroy(ctx, id, cancelled)
	})
	zerolog.Ctx(ctx).Info().Str("deployment_id", id.String()).Str("status", string(d.Status)).Msg("destroy accepted")
	return d, nil
}

func (c *Controller) Get(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	return c.deployments.GetByID(ctx, id)
}

func (c *Controller) List(ctx context.Context) ([]*entity.Deployment, error) {
	return c.deployments.List(ctx)
}

// Outputs returns the captured outputs once apply has succeeded. It fails
// with ErrNotReady before that and after the resources were destroyed.
func (c *Controller) Outputs(ctx context.Context, id entity.ID) (map[string]any, error) {
	d, err := c.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(d.Outputs) == 0 || d.Status == entity.DeploymentStatusDestroyed {
		return nil, fmt.Errorf("%w: deployment %s is %s", entity.ErrNotReady, id, d.Status)
	}
	return d.Outputs, nil
}

func (c *Controller) Events(ctx context.Context, id entity.ID, from int64) ([]*entity.Event, error) {
	return c.events.Read(ctx, id, from)
}

func (c *Controller) Follow(ctx context.Context, id entity.ID, from int64) iter.Seq2[*entity.Event, error] {
	return c.events.Follow(ctx, id, from)
}

// Wait blocks until no pipeline of this controller is running for id and
// returns the record at that point.
func (c *Controller) Wait(ctx context.Context, id entity.ID) (*entity.Deployment, error) {
	for {
		c.mu.Lock()
		r := c.runs[id]
		c.mu.Unlock()
		if r == nil {
			return c.deployments.GetByID(ctx, id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.done:
		}
	}
}

// Shutdown cancels every running pipeline and waits for them to record
// their interruption.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.stop(errShutdown)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) launchLocked(id entity.ID, kind runKind, prev *run, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancelCause(c.baseCtx)
	r := &run{kind: kind, cancel: cancel, done: make(chan struct{})}
	c.runs[id] = r

	log := c.log.With().Str("deployment_id", id.String()).Logger()
	ctx = log.WithContext(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(r.done)
		defer cancel(nil)
		defer func() {
			c.mu.Lock()
			if c.runs[id] == r {
				delete(c.runs, id)
			}
			c.mu.Unlock()
		}()
		if prev != nil {
			<-prev.done
		}
		fn(ctx)
	}()
}

// transition appends one event and folds it into the record. Status-changing
// events are checked against the state machine first so the log never holds
// an event the record would reject.
func (c *Controller) transition(ctx context.Context, id entity.ID, kind entity.EventKind, payload any) (*entity.Deployment, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	cur, err := c.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if to, ok := kind.Status(); ok && !cur.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s on %s", entity.ErrConflict, cur.Status, to, kind)
	}
	ev, err := c.events.Append(ctx, id, kind, payload)
	if err != nil {
		return nil, err
	}
	// the event is durable now; the record must follow it
	d, err := c.deployments.Update(context.WithoutCancel(ctx), id, func(d *entity.Deployment) error {
		return d.Apply(ev)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Str("kind", string(kind)).Str("status", string(d.Status)).Msg("transition")
	return d, nil
}

// record appends an event that carries no state change.
func (c *Controller) record(ctx context.Context, id entity.ID, kind entity.EventKind, payload any) {
	if _, err := c.events.Append(ctx, id, kind, payload); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("failed to record event")
	}
}
