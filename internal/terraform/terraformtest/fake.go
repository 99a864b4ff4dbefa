// Package terraformtest provides a stand-in for the terraform binary. The
// fake is a POSIX shell script driven by environment variables:
//
//	FAKE_TF_FAIL           subcommand that exits 1 (init, plan, apply, output, destroy)
//	FAKE_TF_APPLY_SLEEP    seconds apply blocks before finishing
//	FAKE_TF_DESTROY_SLEEP  seconds destroy blocks before finishing
//	FAKE_TF_URL            value of the application_url output
//	FAKE_TF_NO_SUMMARY     omit the "Plan:" summary line
//
// Every invocation is appended to CallsFile in the working directory and the
// pid of a running apply is written to ApplyPidFile.
package terraformtest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const (
	CallsFile    = ".fake_tf_calls"
	ApplyPidFile = ".fake_tf_apply.pid"
	StateFile    = "terraform.tfstate"
)

const script = `#!/bin/sh
cmd="$1"
shift
echo "$cmd $*" >> ` + CallsFile + `
if [ "$FAKE_TF_FAIL" = "$cmd" ]; then
  echo "Error: simulated $cmd failure" >&2
  exit 1
fi
case "$cmd" in
init)
  echo "Initializing the backend..."
  echo "Terraform has been successfully initialized!"
  ;;
plan)
  echo "  # aws_instance.app will be created"
  echo "  # aws_security_group.app will be created"
  if [ -z "$FAKE_TF_NO_SUMMARY" ]; then
    echo "Plan: 2 to add, 0 to change, 0 to destroy."
  fi
  touch tfplan
  ;;
apply)
  echo $$ > ` + ApplyPidFile + `
  echo "aws_security_group.app: Creating..."
  if [ -n "$FAKE_TF_APPLY_SLEEP" ]; then
    sleep "$FAKE_TF_APPLY_SLEEP"
  fi
  printf '%s' "${FAKE_TF_URL:-http://127.0.0.1:1}" > ` + StateFile + `
  echo "aws_instance.app: Creation complete after 1s [id=i-0123456789]"
  echo "Apply complete! Resources: 2 added, 0 changed, 0 destroyed."
  ;;
output)
  url=$(cat ` + StateFile + ` 2>/dev/null)
  printf '{\n  "application_url": {"sensitive": false, "type": "string", "value": "%s"},\n  "db_password": {"sensitive": true, "type": "string", "value": "hunter2"}\n}\n' "$url"
  ;;
destroy)
  if [ -n "$FAKE_TF_DESTROY_SLEEP" ]; then
    sleep "$FAKE_TF_DESTROY_SLEEP"
  fi
  rm -f ` + StateFile + `
  echo "Destroy complete! Resources: 2 destroyed."
  ;;
*)
  echo "unknown command $cmd" >&2
  exit 2
  ;;
esac
`

// Install writes the fake binary into a temp dir and returns its path.
func Install(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terraform")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("install fake terraform: %v", err)
	}
	return path
}

// Calls returns the subcommands the fake recorded in dir, in order.
func Calls(t testing.TB, dir string) []string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, CallsFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read calls: %v", err)
	}
	var calls []string
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if cmd, _, _ := strings.Cut(line, " "); cmd != "" {
			calls = append(calls, cmd)
		}
	}
	return calls
}

// ApplyPid returns the pid of the last apply started in dir, or 0.
func ApplyPid(dir string) int {
	b, err := os.ReadFile(filepath.Join(dir, ApplyPidFile))
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(b)))
	return pid
}
