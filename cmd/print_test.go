package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/deployhost/internal/entity"
)

func event(t *testing.T, kind entity.EventKind, payload any) *entity.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &entity.Event{Sequence: 1, Timestamp: time.Now(), Kind: kind, Payload: raw}
}

func TestPrintEvent(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name string
		ev   *entity.Event
		want string
	}{
		{
			name: "output line",
			ev:   event(t, entity.EventKindApplyOutputLine, entity.OutputLinePayload{Phase: "apply", Stream: entity.StreamStdout, Line: "aws_instance.app: Creating..."}),
			want: "apply    aws_instance.app: Creating...",
		},
		{
			name: "plan summary",
			ev:   event(t, entity.EventKindApplyStart, entity.ApplyStartPayload{Plan: entity.PlanSummary{Add: 3, Change: 1}}),
			want: "plan: 3 to add, 1 to change, 0 to destroy",
		},
		{
			name: "outputs are listed by key",
			ev:   event(t, entity.EventKindApplyDone, entity.ApplyDonePayload{Outputs: map[string]any{"public_ip": "1.2.3.4", "application_url": "http://x"}}),
			want: "outputs: application_url, public_ip",
		},
		{
			name: "error with hint",
			ev: event(t, entity.EventKindError, entity.ErrorPayload{
				Kind: entity.FailureVerification, Phase: "verify", Reason: "not healthy", Hint: "check bootstrap",
			}),
			want: "verify: not healthy\nhint: check bootstrap",
		},
		{
			name: "destroy of a running pipeline",
			ev:   event(t, entity.EventKindDestroyStart, entity.DestroyStartPayload{From: entity.DeploymentStatusApplying, CancelledPhase: "applying"}),
			want: "from applying, cancelled applying",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEvent(&buf, tt.ev)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
