// Package terraform drives the provisioning tool through a supervisor.Runner
// and extracts the structured bits of its output.
package terraform

import (
	"context"
	"fmt"
	"strings"

	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/supervisor"
)

const (
	PhaseInit    = "init"
	PhasePlan    = "plan"
	PhaseApply   = "apply"
	PhaseOutput  = "output"
	PhaseDestroy = "destroy"

	DefaultBinary = "terraform"
	PlanFile      = "tfplan"
	VarsFile      = "terraform.tfvars.json"
)

type Tool struct {
	Binary string
	Env    []string
	Runner supervisor.Runner
}

func New(binary string, env []string, runner supervisor.Runner) *Tool {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Tool{Binary: binary, Env: env, Runner: runner}
}

func (t *Tool) command(dir string, args ...string) supervisor.Command {
	return supervisor.Command{
		Path: t.Binary,
		Args: args,
		Dir:  dir,
		Env:  append([]string{"TF_IN_AUTOMATION=1"}, t.Env...),
	}
}

func (t *Tool) Init(ctx context.Context, dir string, onLine supervisor.LineFunc) supervisor.Result {
	return t.Runner.Run(ctx, t.command(dir, "init", "-input=false", "-no-color"), onLine)
}

// Plan writes the plan to PlanFile in dir so Apply executes exactly what was
// planned. The summary is collected from every line, not just the tail.
func (t *Tool) Plan(ctx context.Context, dir string, onLine supervisor.LineFunc) (entity.PlanSummary, supervisor.Result) {
	var counter PlanCounter
	res := t.Runner.Run(ctx,
		t.command(dir, "plan", "-input=false", "-no-color", "-out="+PlanFile),
		func(stream entity.Stream, line string) {
			counter.Feed(line)
			if onLine != nil {
				onLine(stream, line)
			}
		})
	return counter.Summary(), res
}

func (t *Tool) Apply(ctx context.Context, dir string, onLine supervisor.LineFunc) supervisor.Result {
	return t.Runner.Run(ctx, t.command(dir, "apply", "-input=false", "-no-color", "-auto-approve", PlanFile), onLine)
}

func (t *Tool) Destroy(ctx context.Context, dir string, onLine supervisor.LineFunc) supervisor.Result {
	return t.Runner.Run(ctx, t.command(dir, "destroy", "-input=false", "-no-color", "-auto-approve"), onLine)
}

// Outputs runs `output -json` and returns the unwrapped values. Sensitive
// values are redacted.
func (t *Tool) Outputs(ctx context.Context, dir string) (map[string]any, supervisor.Result, error) {
	var stdout []string
	res := t.Runner.Run(ctx, t.command(dir, "output", "-json", "-no-color"), func(stream entity.Stream, line string) {
		if stream == entity.StreamStdout {
			stdout = append(stdout, line)
		}
	})
	if res.Outcome != supervisor.Succeeded {
		return nil, res, fmt.Errorf("output exited with %s", res.Outcome)
	}
	outputs, err := ParseOutputs([]byte(strings.Join(stdout, "\n")))
	if err != nil {
		return nil, res, err
	}
	return outputs, res, nil
}
