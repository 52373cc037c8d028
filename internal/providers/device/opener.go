// Package device reaches host capabilities (URI handlers, audio capture)
// through the platform's own command line tools.
package device

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// ExecOpener hands URIs such as tel: and sms: to the desktop's registered
// handler.
type ExecOpener struct {
	Logger *logrus.Logger

	// command builds the exec.Cmd; tests replace it.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewExecOpener(l *logrus.Logger) *ExecOpener {
	if l == nil {
		l = logrus.New()
	}
	return &ExecOpener{Logger: l, command: exec.CommandContext}
}

func openCommand(goos, uri string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{uri}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{uri}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", uri}, nil
	default:
		return "", nil, fmt.Errorf("unsupported operating system: %s", goos)
	}
}

func (o *ExecOpener) Open(ctx context.Context, uri string) error {
	name, args, err := openCommand(runtime.GOOS, uri)
	if err != nil {
		return err
	}

	scheme := uri
	if i := strings.Index(uri, ":"); i >= 0 {
		scheme = uri[:i]
	}

	out, err := o.command(ctx, name, args...).CombinedOutput()
	if err != nil {
		o.Logger.WithError(err).WithFields(logrus.Fields{
			"scheme": scheme,
			"output": strings.TrimSpace(string(out)),
		}).Error("failed to open uri")
		return fmt.Errorf("open %s uri: %w", scheme, err)
	}
	o.Logger.WithField("scheme", scheme).Info("uri handed to platform")
	return nil
}
