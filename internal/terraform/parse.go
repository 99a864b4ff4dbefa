package terraform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yz4230/deployhost/internal/entity"
)

const Redacted = "(sensitive)"

var (
	planLine = regexp.MustCompile(`Plan: (\d+) to add, (\d+) to change, (\d+) to destroy`)
	noChange = regexp.MustCompile(`^No changes\.`)
)

// PlanCounter accumulates a plan summary line by line. The tool's own
// summary line wins; otherwise resource headers are counted.
type PlanCounter struct {
	summary entity.PlanSummary
	counted entity.PlanSummary
}

func (c *PlanCounter) Feed(line string) {
	if c.summary.Parsed {
		return
	}
	if m := planLine.FindStringSubmatch(line); m != nil {
		c.summary = entity.PlanSummary{Add: atoi(m[1]), Change: atoi(m[2]), Destroy: atoi(m[3]), Parsed: true}
		return
	}
	if noChange.MatchString(strings.TrimSpace(line)) {
		c.summary = entity.PlanSummary{Parsed: true}
		return
	}
	switch {
	case strings.Contains(line, "will be created"):
		c.counted.Add++
	case strings.Contains(line, "will be updated"):
		c.counted.Change++
	case strings.Contains(line, "will be destroyed"):
		c.counted.Destroy++
	case strings.Contains(line, "must be replaced"):
		c.counted.Add++
		c.counted.Destroy++
	}
}

func (c *PlanCounter) Summary() entity.PlanSummary {
	if c.summary.Parsed {
		return c.summary
	}
	return c.counted
}

func ParsePlanSummary(output string) entity.PlanSummary {
	var c PlanCounter
	for line := range strings.Lines(output) {
		c.Feed(line)
	}
	return c.Summary()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

type outputValue struct {
	Sensitive bool            `json:"sensitive"`
	Type      json.RawMessage `json:"type"`
	Value     any             `json:"value"`
}

// ParseOutputs decodes `output -json`, which wraps every value as
// {"sensitive": bool, "type": ..., "value": ...}.
func ParseOutputs(raw []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var wrapped map[string]outputValue
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}
	outputs := make(map[string]any, len(wrapped))
	for k, v := range wrapped {
		if v.Sensitive {
			outputs[k] = Redacted
			continue
		}
		outputs[k] = v.Value
	}
	return outputs, nil
}
