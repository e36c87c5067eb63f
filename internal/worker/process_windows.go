//go:build windows

package worker

import "os/exec"

// setProcessGroup is a no-op on Windows; killProcessGroup falls back
// to killing the direct child only.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
