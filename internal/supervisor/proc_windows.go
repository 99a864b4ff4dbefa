//go:build windows

package supervisor

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, kill bool) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
