package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to DeploymentStatus
		want     bool
	}{
		{DeploymentStatusQueued, DeploymentStatusInitializing, true},
		{DeploymentStatusInitializing, DeploymentStatusPlanning, true},
		{DeploymentStatusPlanning, DeploymentStatusApplying, true},
		{DeploymentStatusApplying, DeploymentStatusBootstrapping, true},
		{DeploymentStatusBootstrapping, DeploymentStatusVerifying, true},
		{DeploymentStatusVerifying, DeploymentStatusHealthy, true},
		{DeploymentStatusQueued, DeploymentStatusPlanning, false},
		{DeploymentStatusApplying, DeploymentStatusPlanning, false},
		{DeploymentStatusHealthy, DeploymentStatusVerifying, false},
		{DeploymentStatusApplying, DeploymentStatusFailed, true},
		{DeploymentStatusVerifying, DeploymentStatusFailed, true},
		{DeploymentStatusHealthy, DeploymentStatusFailed, false},
		{DeploymentStatusFailed, DeploymentStatusFailed, false},
		{DeploymentStatusDestroyed, DeploymentStatusFailed, false},
		{DeploymentStatusApplying, DeploymentStatusDestroying, true},
		{DeploymentStatusHealthy, DeploymentStatusDestroying, true},
		{DeploymentStatusFailed, DeploymentStatusDestroying, true},
		{DeploymentStatusDestroying, DeploymentStatusDestroying, false},
		{DeploymentStatusDestroyed, DeploymentStatusDestroying, false},
		{DeploymentStatusDestroying, DeploymentStatusDestroyed, true},
		{DeploymentStatusDestroying, DeploymentStatusFailed, true},
		{DeploymentStatusHealthy, DeploymentStatusDestroyed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func newEvent(t *testing.T, seq int64, kind EventKind, payload any) *Event {
	t.Helper()
	raw, err := EncodePayload(payload)
	require.NoError(t, err)
	return &Event{Sequence: seq, Kind: kind, Payload: raw, Timestamp: time.Unix(seq, 0)}
}

func TestReplayHealthy(t *testing.T) {
	params := Parameters{Repo: "https://example.com/app.git", Region: "us-west-2", TemplateDir: "/tmp/tpl"}
	events := []*Event{
		newEvent(t, 1, EventKindInit, InitPayload{Parameters: params}),
		newEvent(t, 2, EventKindPlan, PlanPayload{}),
		newEvent(t, 3, EventKindApplyStart, ApplyStartPayload{}),
		newEvent(t, 4, EventKindApplyOutputLine, OutputLinePayload{Phase: "apply", Line: "creating..."}),
		newEvent(t, 5, EventKindApplyDone, ApplyDonePayload{Outputs: map[string]any{"application_url": "http://x", "instance_id": 42}}),
		newEvent(t, 6, EventKindBootstrapWait, BootstrapWaitPayload{}),
		newEvent(t, 7, EventKindVerifyOK, VerifyPayload{}),
		newEvent(t, 8, EventKindDone, DonePayload{}),
	}

	d, err := Replay(Deployment{ID: "d1"}, events)
	require.NoError(t, err)
	assert.Equal(t, DeploymentStatusHealthy, d.Status)
	assert.Equal(t, params.Repo, d.Parameters.Repo)
	assert.Equal(t, "http://x", d.Outputs["application_url"])
	assert.EqualValues(t, 42, d.Outputs["instance_id"])
	assert.Empty(t, d.Error)
	assert.Equal(t, time.Unix(8, 0), d.UpdatedAt)
	assert.Equal(t, "http://x", d.Snapshot("application_url").PublicURL)
}

func TestReplayApplyFailure(t *testing.T) {
	events := []*Event{
		newEvent(t, 1, EventKindInit, InitPayload{}),
		newEvent(t, 2, EventKindPlan, PlanPayload{}),
		newEvent(t, 3, EventKindApplyStart, ApplyStartPayload{}),
		newEvent(t, 4, EventKindError, ErrorPayload{
			Kind:      FailureProvisioning,
			Phase:     "apply",
			Reason:    "apply exited with code 1",
			LastLines: []string{"Error: boom"},
		}),
	}

	d, err := Replay(Deployment{ID: "d1"}, events)
	require.NoError(t, err)
	assert.Equal(t, DeploymentStatusFailed, d.Status)
	assert.Empty(t, d.Outputs)
	assert.Contains(t, d.Error, "Error: boom")
	assert.Equal(t, FailureProvisioning, d.FailureKind)
}

func TestReplayRejectsBackwardTransition(t *testing.T) {
	events := []*Event{
		newEvent(t, 1, EventKindInit, InitPayload{}),
		newEvent(t, 2, EventKindError, ErrorPayload{Kind: FailureProvisioning}),
		newEvent(t, 3, EventKindPlan, PlanPayload{}),
	}
	_, err := Replay(Deployment{ID: "d1"}, events)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestReplayDestroyAfterHealthy(t *testing.T) {
	events := []*Event{
		newEvent(t, 1, EventKindInit, InitPayload{}),
		newEvent(t, 2, EventKindPlan, PlanPayload{}),
		newEvent(t, 3, EventKindApplyStart, ApplyStartPayload{}),
		newEvent(t, 4, EventKindApplyDone, ApplyDonePayload{Outputs: map[string]any{"application_url": "http://x"}}),
		newEvent(t, 5, EventKindBootstrapWait, BootstrapWaitPayload{}),
		newEvent(t, 6, EventKindVerifyOK, VerifyPayload{}),
		newEvent(t, 7, EventKindDone, DonePayload{}),
		newEvent(t, 8, EventKindDestroyStart, DestroyStartPayload{From: DeploymentStatusHealthy}),
		newEvent(t, 9, EventKindDestroyDone, DestroyDonePayload{OK: true}),
	}
	d, err := Replay(Deployment{ID: "d1"}, events)
	require.NoError(t, err)
	assert.Equal(t, DeploymentStatusDestroyed, d.Status)
	assert.NotEmpty(t, d.Outputs)
}

func TestDeploymentErrorIs(t *testing.T) {
	err := error(&DeploymentError{Kind: FailureVerification, Message: "no response"})
	assert.True(t, errors.Is(err, ErrVerificationTimeout))
	assert.False(t, errors.Is(err, ErrProvisioningFailed))
}

func TestParseID(t *testing.T) {
	id := NewID()
	got, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseID("../etc")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags([]string{"team=web", " env = prod ", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "web", "env": "prod", "note": "a=b"}, tags)

	for _, bad := range []string{"novalue", "=x", "k="} {
		_, err := ParseTags([]string{bad})
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}
