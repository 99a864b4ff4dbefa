// Package supervisor runs the provisioning tool as a child process and
// streams its output line by line while it runs.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/yz4230/deployhost/internal/entity"
)

const (
	DefaultGracePeriod = 10 * time.Second
	DefaultTailLines   = 40
)

type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Command is one invocation of the provisioning tool.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the environment of the orchestrator.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result is the typed outcome of one phase. Lines holds the tail of the
// combined output and the last stderr lines, in arrival order; ExitCode is -1 when the process never produced one.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Lines    []string
	Err      error
}

// LineFunc receives every output line as soon as it is complete. Calls are
// serialized by the runner.
type LineFunc func(stream entity.Stream, line string)

// Runner executes a Command to completion or cancellation. The child and its
// output pumps are released before Run returns, on every path.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine LineFunc) Result
}

// tail keeps the last n lines seen by a phase, plus the last n stderr lines
// even when stdout has pushed them out of the window. It also serializes the
// callback.
type tail struct {
	mu     sync.Mutex
	n      int
	seq    int
	lines  []tailLine
	errs   []tailLine
	onLine LineFunc
}

type tailLine struct {
	seq  int
	text string
}

func newTail(n int, onLine LineFunc) *tail {
	if n <= 0 {
		n = DefaultTailLines
	}
	return &tail{n: n, onLine: onLine}
}

func (t *tail) add(stream entity.Stream, line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	l := tailLine{seq: t.seq, text: line}
	t.lines = t.keep(append(t.lines, l))
	if stream == entity.StreamStderr {
		t.errs = t.keep(append(t.errs, l))
	}
	if t.onLine != nil {
		t.onLine(stream, line)
	}
}

func (t *tail) keep(lines []tailLine) []tailLine {
	if len(lines) > 2*t.n {
		return append([]tailLine(nil), lo.Subset(lines, -t.n, uint(t.n))...)
	}
	return lines
}

// snapshot merges the combined window with the stderr window in arrival
// order.
func (t *tail) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	merged := slices.Concat(lo.Subset(t.errs, -t.n, uint(t.n)), lo.Subset(t.lines, -t.n, uint(t.n)))
	merged = lo.UniqBy(merged, func(l tailLine) int { return l.seq })
	slices.SortFunc(merged, func(a, b tailLine) int { return a.seq - b.seq })
	return lo.Map(merged, func(l tailLine, _ int) string { return l.text })
}

// lineWriter splits a byte stream into lines for a tail.
type lineWriter struct {
	stream entity.Stream
	sink   *tail
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(b []byte) {
	line := strings.TrimRight(string(b), "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.sink.add(w.stream, line)
}
