package entity

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

type DeploymentStatus string

const (
	DeploymentStatusQueued        DeploymentStatus = "queued"
	DeploymentStatusInitializing  DeploymentStatus = "initializing"
	DeploymentStatusPlanning      DeploymentStatus = "planning"
	DeploymentStatusApplying      DeploymentStatus = "applying"
	DeploymentStatusBootstrapping DeploymentStatus = "bootstrapping"
	DeploymentStatusVerifying     DeploymentStatus = "verifying"
	DeploymentStatusHealthy       DeploymentStatus = "healthy"
	DeploymentStatusFailed        DeploymentStatus = "failed"
	DeploymentStatusDestroying    DeploymentStatus = "destroying"
	DeploymentStatusDestroyed     DeploymentStatus = "destroyed"
)

// provisioning holds the forward order of the provisioning pipeline.
var provisioning = []DeploymentStatus{
	DeploymentStatusQueued,
	DeploymentStatusInitializing,
	DeploymentStatusPlanning,
	DeploymentStatusApplying,
	DeploymentStatusBootstrapping,
	DeploymentStatusVerifying,
	DeploymentStatusHealthy,
}

func (s DeploymentStatus) stage() int {
	for i, st := range provisioning {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no pipeline is expected to move s any further.
// A healthy or failed deployment can still be destroyed on request.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentStatusHealthy, DeploymentStatusFailed, DeploymentStatusDestroyed:
		return true
	}
	return false
}

// InFlight reports whether a provisioning pipeline owns s.
func (s DeploymentStatus) InFlight() bool {
	i := s.stage()
	return i >= 0 && s != DeploymentStatusHealthy
}

// Destroyable reports whether a destroy request is accepted in s.
func (s DeploymentStatus) Destroyable() bool {
	return s != DeploymentStatusDestroying && s != DeploymentStatusDestroyed
}

// CanTransition reports whether the state machine allows s → to.
func (s DeploymentStatus) CanTransition(to DeploymentStatus) bool {
	switch to {
	case DeploymentStatusDestroying:
		return s.Destroyable()
	case DeploymentStatusDestroyed:
		return s == DeploymentStatusDestroying
	case DeploymentStatusFailed:
		return s.InFlight() || s == DeploymentStatusDestroying
	}
	from, next := s.stage(), to.stage()
	return from >= 0 && next == from+1
}

// Parameters is the resolved input of a deployment. Immutable once stored.
type Parameters struct {
	Instructions string            `json:"instructions"`
	Repo         string            `json:"repo"`
	Region       string            `json:"region"`
	TemplateDir  string            `json:"template_dir"`
	Vars         map[string]any    `json:"vars,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

func (p *Parameters) Validate() error {
	if p.Repo == "" {
		return fmt.Errorf("%w: repo is required", ErrInvalid)
	}
	if p.TemplateDir == "" {
		return fmt.Errorf("%w: template dir is required", ErrInvalid)
	}
	if p.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalid)
	}
	return nil
}

// ParseTags parses "key=value" pairs. Keys and values are trimmed and must
// not be empty.
func ParseTags(pairs []string) (map[string]string, error) {
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%w: tag %q, expected key=value", ErrInvalid, pair)
		}
		tags[k] = v
	}
	return tags, nil
}

type Deployment struct {
	ID          ID               `json:"id"`
	Parameters  Parameters       `json:"parameters"`
	Status      DeploymentStatus `json:"status"`
	Outputs     map[string]any   `json:"outputs,omitempty"`
	Error       string           `json:"error,omitempty"`
	FailureKind FailureKind      `json:"failure_kind,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func NewDeployment(params Parameters, now time.Time) *Deployment {
	return &Deployment{
		ID:         NewID(),
		Parameters: params,
		Status:     DeploymentStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Apply folds one event into the record. It is the only place record fields
// are derived from events, so live updates and Replay agree by construction.
func (d *Deployment) Apply(ev *Event) error {
	to, changes := ev.Kind.Status()
	if changes && to != d.Status {
		if !d.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s on %s", ErrConflict, d.Status, to, ev.Kind)
		}
		d.Status = to
		d.UpdatedAt = ev.Timestamp
	}

	switch ev.Kind {
	case EventKindInit:
		var p InitPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if d.Parameters.Repo == "" {
			d.Parameters = p.Parameters
		}
	case EventKindApplyDone:
		var p ApplyDonePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if len(d.Outputs) == 0 && len(p.Outputs) > 0 {
			d.Outputs = maps.Clone(p.Outputs)
		}
	case EventKindError:
		var p ErrorPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		d.Error = p.AsError().Error()
		d.FailureKind = p.Kind
	}
	return nil
}

// Replay rebuilds a deployment from its full event log. base supplies the
// identity and creation time, which precede the first event.
func Replay(base Deployment, events []*Event) (*Deployment, error) {
	d := &Deployment{
		ID:         base.ID,
		Parameters: base.Parameters,
		Status:     DeploymentStatusQueued,
		CreatedAt:  base.CreatedAt,
		UpdatedAt:  base.CreatedAt,
	}
	for _, ev := range events {
		if err := d.Apply(ev); err != nil {
			return nil, fmt.Errorf("replay %s seq %d: %w", d.ID, ev.Sequence, err)
		}
	}
	return d, nil
}

// Snapshot is the consumer-facing status view of a deployment.
type Snapshot struct {
	ID          ID               `json:"id"`
	Status      DeploymentStatus `json:"status"`
	Repo        string           `json:"repo"`
	Region      string           `json:"region"`
	PublicURL   string           `json:"public_url,omitempty"`
	Error       string           `json:"error,omitempty"`
	FailureKind FailureKind      `json:"failure_kind,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (d *Deployment) Snapshot(urlKey string) Snapshot {
	s := Snapshot{
		ID:          d.ID,
		Status:      d.Status,
		Repo:        d.Parameters.Repo,
		Region:      d.Parameters.Region,
		Error:       d.Error,
		FailureKind: d.FailureKind,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if v, ok := d.Outputs[urlKey].(string); ok {
		s.PublicURL = v
	}
	return s
}
