//go:build !windows

package terraform_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/supervisor"
	"github.com/yz4230/deployhost/internal/terraform"
	"github.com/yz4230/deployhost/internal/terraform/terraformtest"
)

func newTool(t *testing.T, env ...string) *terraform.Tool {
	t.Helper()
	runner := supervisor.NewLocalRunner(time.Second, 40, zerolog.Nop())
	return terraform.New(terraformtest.Install(t), env, runner)
}

func TestToolFullCycle(t *testing.T) {
	dir := t.TempDir()
	tool := newTool(t, "FAKE_TF_URL=http://app.example.com")
	ctx := context.Background()

	res := tool.Init(ctx, dir, nil)
	require.Equal(t, supervisor.Succeeded, res.Outcome)

	var planLines []string
	summary, res := tool.Plan(ctx, dir, func(_ entity.Stream, line string) {
		planLines = append(planLines, line)
	})
	require.Equal(t, supervisor.Succeeded, res.Outcome)
	assert.Equal(t, entity.PlanSummary{Add: 2, Parsed: true}, summary)
	assert.NotEmpty(t, planLines)

	res = tool.Apply(ctx, dir, nil)
	require.Equal(t, supervisor.Succeeded, res.Outcome)
	assert.Contains(t, res.Lines, "Apply complete! Resources: 2 added, 0 changed, 0 destroyed.")

	outputs, res, err := tool.Outputs(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, supervisor.Succeeded, res.Outcome)
	assert.Equal(t, "http://app.example.com", outputs["application_url"])
	assert.Equal(t, terraform.Redacted, outputs["db_password"])

	res = tool.Destroy(ctx, dir, nil)
	require.Equal(t, supervisor.Succeeded, res.Outcome)

	assert.Equal(t, []string{"init", "plan", "apply", "output", "destroy"}, terraformtest.Calls(t, dir))
}

func TestToolApplyFailure(t *testing.T) {
	dir := t.TempDir()
	tool := newTool(t, "FAKE_TF_FAIL=apply")
	res := tool.Apply(context.Background(), dir, nil)
	assert.Equal(t, supervisor.Failed, res.Outcome)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, []string{"Error: simulated apply failure"}, res.Lines)
}

func TestToolPlanFallbackCount(t *testing.T) {
	tool := newTool(t, "FAKE_TF_NO_SUMMARY=1")
	summary, res := tool.Plan(context.Background(), t.TempDir(), nil)
	require.Equal(t, supervisor.Succeeded, res.Outcome)
	assert.Equal(t, entity.PlanSummary{Add: 2}, summary)
}

func TestParsePlanSummary(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   entity.PlanSummary
	}{
		{
			name:   "summary line",
			output: "  # a will be created\nPlan: 3 to add, 1 to change, 2 to destroy.\n",
			want:   entity.PlanSummary{Add: 3, Change: 1, Destroy: 2, Parsed: true},
		},
		{
			name:   "no changes",
			output: "No changes. Your infrastructure matches the configuration.\n",
			want:   entity.PlanSummary{Parsed: true},
		},
		{
			name: "counted",
			output: "  # a will be created\n  # b will be updated in-place\n" +
				"  # c will be destroyed\n  # d must be replaced\n",
			want: entity.PlanSummary{Add: 2, Change: 1, Destroy: 2},
		},
		{
			name:   "garbage",
			output: "something unexpected\n",
			want:   entity.PlanSummary{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, terraform.ParsePlanSummary(tt.output))
		})
	}
}

func TestParseOutputs(t *testing.T) {
	raw := []byte(`{
  "application_url": {"sensitive": false, "type": "string", "value": "http://1.2.3.4"},
  "ports": {"sensitive": false, "type": ["list", "number"], "value": [80, 443]},
  "token": {"sensitive": true, "type": "string", "value": "secret"}
}`)
	outputs, err := terraform.ParseOutputs(raw)
	require.NoError(t, err)
	assert.Equal(t, "http://1.2.3.4", outputs["application_url"])
	assert.Equal(t, []any{float64(80), float64(443)}, outputs["ports"])
	assert.Equal(t, terraform.Redacted, outputs["token"])

	empty, err := terraform.ParseOutputs(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = terraform.ParseOutputs([]byte("not json"))
	assert.Error(t, err)
}
