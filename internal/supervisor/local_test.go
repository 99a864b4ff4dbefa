//go:build !windows

package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/deployhost/internal/entity"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

type collected struct {
	mu    sync.Mutex
	lines []string
}

func (c *collected) add(stream entity.Stream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, string(stream)+":"+line)
}

func (c *collected) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// processGone treats zombies as gone since the orphan is reaped by whoever
// inherits it, not by us.
func processGone(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err == nil {
		fields := strings.Fields(string(b))
		return len(fields) > 2 && fields[2] == "Z"
	}
	return syscall.Kill(pid, 0) == syscall.ESRCH
}

func TestLocalRunnerStreamsLines(t *testing.T) {
	script := writeScript(t, `echo "one"
echo "two" >&2
printf "three"
echo "env=$DEPLOYHOST_TEST"
`)
	r := NewLocalRunner(time.Second, 10, zerolog.Nop())
	var got collected
	res := r.Run(context.Background(), Command{
		Path: script,
		Dir:  t.TempDir(),
		Env:  []string{"DEPLOYHOST_TEST=ok"},
	}, got.add)

	require.Equal(t, Succeeded, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.ElementsMatch(t, []string{"stdout:one", "stderr:two", "stdout:threeenv=ok"}, got.all())
	assert.Len(t, res.Lines, 3)
}

func TestLocalRunnerFailureKeepsTail(t *testing.T) {
	script := writeScript(t, `i=1
while [ $i -le 20 ]; do echo "line $i"; i=$((i+1)); done
echo "Error: boom" >&2
exit 3
`)
	r := NewLocalRunner(time.Second, 5, zerolog.Nop())
	// the two pipes race, so run it often enough to see both orders
	for range 20 {
		res := r.Run(context.Background(), Command{Path: script, Dir: t.TempDir()}, nil)

		require.Equal(t, Failed, res.Outcome)
		assert.Equal(t, 3, res.ExitCode)
		assert.Contains(t, res.Lines, "Error: boom")
		assert.Subset(t, res.Lines, []string{"line 17", "line 18", "line 19", "line 20"})
		assert.LessOrEqual(t, len(res.Lines), 6)
	}
}

func TestLocalRunnerMissingBinary(t *testing.T) {
	r := NewLocalRunner(time.Second, 5, zerolog.Nop())
	res := r.Run(context.Background(), Command{Path: filepath.Join(t.TempDir(), "nope")}, nil)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, -1, res.ExitCode)
	assert.Error(t, res.Err)
	assert.NotEmpty(t, res.Lines)
}

func TestLocalRunnerCancelLeavesNoOrphans(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	script := writeScript(t, `sleep 60 &
echo $! > `+pidFile+`
echo "started"
wait
`)
	r := NewLocalRunner(500*time.Millisecond, 5, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- r.Run(ctx, Command{Path: script, Dir: dir}, nil) }()

	var childPid int
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		childPid, err = strconv.Atoi(strings.TrimSpace(string(b)))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case res := <-done:
		assert.Equal(t, Cancelled, res.Outcome)
		assert.ErrorIs(t, res.Err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Eventually(t, func() bool { return processGone(childPid) }, 2*time.Second, 20*time.Millisecond)
}

func TestLocalRunnerKillsAfterGracePeriod(t *testing.T) {
	script := writeScript(t, `trap '' TERM
echo "ignoring"
sleep 60
`)
	r := NewLocalRunner(200*time.Millisecond, 5, zerolog.Nop())
	ctx, cancel := context.WithCancelCause(context.Background())
	stop := fmt.Errorf("destroy requested")

	var got collected
	done := make(chan Result, 1)
	go func() { done <- r.Run(ctx, Command{Path: script, Dir: t.TempDir()}, got.add) }()
	require.Eventually(t, func() bool { return len(got.all()) > 0 }, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	cancel(stop)
	select {
	case res := <-done:
		assert.Equal(t, Cancelled, res.Outcome)
		assert.ErrorIs(t, res.Err, stop)
		assert.Less(t, time.Since(start), 3*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after grace period")
	}
}

func TestLocalRunnerAlreadyCancelled(t *testing.T) {
	script := writeScript(t, "echo never\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewLocalRunner(time.Second, 5, zerolog.Nop()).Run(ctx, Command{Path: script}, nil)
	assert.Equal(t, Cancelled, res.Outcome)
}
