//go:build !windows

package tts

import (
	"os/exec"
	"syscall"
)

type signalFunc func(*exec.Cmd) error

func stopSignal(cmd *exec.Cmd) error { return cmd.Process.Signal(syscall.SIGSTOP) }
func contSignal(cmd *exec.Cmd) error { return cmd.Process.Signal(syscall.SIGCONT) }
