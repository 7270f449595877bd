//go:build unix

package control

import "syscall"

// killProcessGroupByPID sends SIGKILL to the process group rooted at
// pid, falling back to killing just the process. Either form tolerates
// "process already gone" — it is not an error condition per spec.
func killProcessGroupByPID(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// processAlive reports whether pid still refers to a live process. Signal
// 0 performs no action beyond existence/permission checks.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
