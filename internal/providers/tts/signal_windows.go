//go:build windows

package tts

import "os/exec"

type signalFunc func(*exec.Cmd) error

func stopSignal(*exec.Cmd) error { return ErrUnsupported }
func contSignal(*exec.Cmd) error { return ErrUnsupported }
