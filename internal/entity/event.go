package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventKindInit            EventKind = "INIT"
	EventKindPlan            EventKind = "PLAN"
	EventKindApplyStart      EventKind = "APPLY_START"
	EventKindApplyOutputLine EventKind = "APPLY_OUTPUT_LINE"
	EventKindApplyDone       EventKind = "APPLY_DONE"
	EventKindBootstrapWait   EventKind = "BOOTSTRAP_WAIT"
	EventKindVerifyOK        EventKind = "VERIFY_OK"
	EventKindVerifyTimeout   EventKind = "VERIFY_TIMEOUT"
	EventKindDone            EventKind = "DONE"
	EventKindError           EventKind = "ERROR"
	EventKindDestroyStart    EventKind = "DESTROY_START"
	EventKindDestroyDone     EventKind = "DESTROY_DONE"
)

var eventStatus = map[EventKind]DeploymentStatus{
	EventKindInit:          DeploymentStatusInitializing,
	EventKindPlan:          DeploymentStatusPlanning,
	EventKindApplyStart:    DeploymentStatusApplying,
	EventKindApplyDone:     DeploymentStatusBootstrapping,
	EventKindBootstrapWait: DeploymentStatusVerifying,
	EventKindDone:          DeploymentStatusHealthy,
	EventKindError:         DeploymentStatusFailed,
	EventKindDestroyStart:  DeploymentStatusDestroying,
	EventKindDestroyDone:   DeploymentStatusDestroyed,
}

// Status returns the status a deployment enters when k is appended, and
// false for kinds that carry no transition.
func (k EventKind) Status() (DeploymentStatus, bool) {
	s, ok := eventStatus[k]
	return s, ok
}

// IsTerminal reports whether k ends the current pipeline of a deployment.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventKindDone, EventKindError, EventKindDestroyDone:
		return true
	}
	return false
}

func (k EventKind) Valid() bool {
	if k == EventKindApplyOutputLine || k == EventKindVerifyOK || k == EventKindVerifyTimeout {
		return true
	}
	_, ok := eventStatus[k]
	return ok
}

// Event is one immutable, sequenced fact in a deployment's log.
type Event struct {
	DeploymentID ID              `json:"deployment_id"`
	Sequence     int64           `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Kind         EventKind       `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
}

func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

func EncodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

type InitPayload struct {
	Parameters Parameters `json:"parameters"`
}

type PlanPayload struct {
	Workspace string `json:"workspace"`
}

type PlanSummary struct {
	Add     int  `json:"add"`
	Change  int  `json:"change"`
	Destroy int  `json:"destroy"`
	Parsed  bool `json:"parsed"`
}

type ApplyStartPayload struct {
	Plan PlanSummary `json:"plan"`
}

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

type OutputLinePayload struct {
	Phase  string `json:"phase"`
	Stream Stream `json:"stream"`
	Line   string `json:"line"`
}

type ApplyDonePayload struct {
	Outputs map[string]any `json:"outputs"`
}

type BootstrapWaitPayload struct {
	Endpoint    string `json:"endpoint"`
	SettleDelay string `json:"settle_delay"`
	Timeout     string `json:"timeout"`
}

type VerifyPayload struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
	Elapsed    string `json:"elapsed"`
	LastError  string `json:"last_error,omitempty"`
}

type DonePayload struct {
	PublicURL string `json:"public_url"`
}

type ErrorPayload struct {
	Kind      FailureKind `json:"kind"`
	Phase     string      `json:"phase,omitempty"`
	Reason    string      `json:"reason"`
	Hint      string      `json:"hint,omitempty"`
	ExitCode  int         `json:"exit_code,omitempty"`
	LastLines []string    `json:"last_lines,omitempty"`
}

func (p *ErrorPayload) AsError() *DeploymentError {
	return &DeploymentError{Kind: p.Kind, Phase: p.Phase, Message: p.Reason, Tail: p.LastLines}
}

type DestroyStartPayload struct {
	From           DeploymentStatus `json:"from"`
	CancelledPhase string           `json:"cancelled_phase,omitempty"`
}

type DestroyDonePayload struct {
	OK bool `json:"ok"`
}
