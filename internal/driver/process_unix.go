//go:build unix

package driver

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the subprocess in a new process group/session so
// that signalling the group also reaches any grandchildren it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the subprocess's process group,
// falling back to killing just the process if the group signal fails.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
