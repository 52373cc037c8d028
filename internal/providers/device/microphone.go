package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Microphone answers whether audio capture is available. Mode "granted" and
// "denied" pin the answer; "auto" asks the platform.
type Microphone struct {
	Mode string

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewMicrophone(mode string) *Microphone {
	if mode == "" {
		mode = "auto"
	}
	return &Microphone{Mode: strings.ToLower(mode), command: exec.CommandContext}
}

var ErrMicrophoneDenied = errors.New("microphone access denied")

func (m *Microphone) RequestAccess(ctx context.Context) error {
	switch m.Mode {
	case "granted":
		return nil
	case "denied":
		return ErrMicrophoneDenied
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = m.command(ctx, "arecord", "-l")
	case "darwin":
		cmd = m.command(ctx, "system_profiler", "SPAudioDataType")
	default:
		// no probe available; let the transport find out
		return nil
	}

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophoneDenied, err)
	}
	if !hasCaptureDevice(runtime.GOOS, string(out)) {
		return fmt.Errorf("%w: no capture device", ErrMicrophoneDenied)
	}
	return nil
}

func hasCaptureDevice(goos, out string) bool {
	switch goos {
	case "linux":
		return strings.Contains(out, "card ")
	case "darwin":
		return strings.Contains(out, "Input Channels") || strings.Contains(out, "Input Source")
	default:
		return true
	}
}
