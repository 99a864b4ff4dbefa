package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/yz4230/deployhost/internal/entity"
)

var (
	faint   = color.New(color.Faint)
	bold    = color.New(color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	failure = color.New(color.FgRed, color.Bold)
	warning = color.New(color.FgYellow)
	stderrC = color.New(color.FgRed)
)

func statusColor(s entity.DeploymentStatus) *color.Color {
	switch s {
	case entity.DeploymentStatusHealthy, entity.DeploymentStatusDestroyed:
		return success
	case entity.DeploymentStatusFailed:
		return failure
	case entity.DeploymentStatusDestroying:
		return warning
	}
	return bold
}

// printEvent renders one log event as a single human readable line.
func printEvent(w io.Writer, ev *entity.Event) {
	ts := faint.Sprint(ev.Timestamp.Local().Format(time.TimeOnly))
	if ev.Kind == entity.EventKindApplyOutputLine {
		var p entity.OutputLinePayload
		if err := ev.Decode(&p); err != nil {
			fmt.Fprintf(w, "%s %s\n", ts, failure.Sprint(err))
			return
		}
		line := p.Line
		if p.Stream == entity.StreamStderr {
			line = stderrC.Sprint(line)
		}
		fmt.Fprintf(w, "%s %s %s\n", ts, faint.Sprintf("%-8s", p.Phase), line)
		return
	}

	kind := bold.Sprintf("%-14s", ev.Kind)
	switch ev.Kind {
	case entity.EventKindDone, entity.EventKindVerifyOK, entity.EventKindDestroyDone:
		kind = success.Sprintf("%-14s", ev.Kind)
	case entity.EventKindError, entity.EventKindVerifyTimeout:
		kind = failure.Sprintf("%-14s", ev.Kind)
	}
	fmt.Fprintf(w, "%s %s %s\n", ts, kind, describe(ev))
}

func describe(ev *entity.Event) string {
	switch ev.Kind {
	case entity.EventKindInit:
		var p entity.InitPayload
		if ev.Decode(&p) == nil {
			return fmt.Sprintf("repo=%s region=%s", p.Parameters.Repo, p.Parameters.Region)
		}
	case entity.EventKindApplyStart:
		var p entity.ApplyStartPayload
		if ev.Decode(&p) == nil {
			return fmt.Sprintf("plan: %d to add, %d to change, %d to destroy", p.Plan.Add, p.Plan.Change, p.Plan.Destroy)
		}
	case entity.EventKindApplyDone:
		var p entity.ApplyDonePayload
		if ev.Decode(&p) == nil {
			return "outputs: " + strings.Join(sortedKeys(p.Outputs), ", ")
		}
	case entity.EventKindBootstrapWait:
		var p entity.BootstrapWaitPayload
		if ev.Decode(&p) == nil {
			return fmt.Sprintf("verifying %s for up to %s", p.Endpoint, p.Timeout)
		}
	case entity.EventKindVerifyOK, entity.EventKindVerifyTimeout:
		var p entity.VerifyPayload
		if ev.Decode(&p) == nil {
			s := fmt.Sprintf("%s after %d attempts in %s", p.URL, p.Attempts, p.Elapsed)
			if p.LastError != "" {
				s += ": " + p.LastError
			}
			return s
		}
	case entity.EventKindDone:
		var p entity.DonePayload
		if ev.Decode(&p) == nil {
			return p.PublicURL
		}
	case entity.EventKindError:
		var p entity.ErrorPayload
		if ev.Decode(&p) == nil {
			s := p.AsError().Error()
			if p.Hint != "" {
				s += "\n" + warning.Sprint("hint: "+p.Hint)
			}
			return s
		}
	case entity.EventKindDestroyStart:
		var p entity.DestroyStartPayload
		if ev.Decode(&p) == nil {
			if p.CancelledPhase != "" {
				return fmt.Sprintf("from %s, cancelled %s", p.From, p.CancelledPhase)
			}
			return fmt.Sprintf("from %s", p.From)
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
