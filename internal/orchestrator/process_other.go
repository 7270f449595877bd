//go:build !unix

package orchestrator

func processAlive(pid int) bool { return false }
