// Package tts drives the host's on-device speech engine.
package tts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/narration"
)

// baseWPM is the engines' default speaking rate; utterance rates scale it.
const baseWPM = 175

var ErrUnsupported = errors.New("speech synthesis not available on this host")

// ExecSpeech speaks with `say` on macOS and espeak-ng (or espeak) elsewhere.
type ExecSpeech struct {
	log  *logrus.Logger
	goos string
	bin  string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewExecSpeech(l *logrus.Logger) *ExecSpeech {
	if l == nil {
		l = logrus.New()
	}
	s := &ExecSpeech{log: l, goos: runtime.GOOS}
	s.bin = s.findBinary()
	if s.bin == "" {
		l.Warn("no speech engine found; offline narration is silent")
	}
	return s
}

func (s *ExecSpeech) findBinary() string {
	candidates := []string{"espeak-ng", "espeak"}
	if s.goos == "darwin" {
		candidates = []string{"say"}
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p
		}
	}
	return ""
}

// Available reports whether a speech engine was found.
func (s *ExecSpeech) Available() bool { return s.bin != "" }

func (s *ExecSpeech) isSay() bool { return strings.HasSuffix(s.bin, "say") }

func (s *ExecSpeech) Voices(ctx context.Context) ([]narration.Voice, error) {
	if s.bin == "" {
		return nil, ErrUnsupported
	}
	var cmd *exec.Cmd
	if s.isSay() {
		cmd = exec.CommandContext(ctx, s.bin, "-v", "?")
	} else {
		cmd = exec.CommandContext(ctx, s.bin, "--voices")
	}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	if s.isSay() {
		return parseSayVoices(out), nil
	}
	return parseEspeakVoices(out), nil
}

// parseSayVoices reads `say -v ?` lines such as
// "Samantha            en_US    # Hello, my name is Samantha."
func parseSayVoices(out []byte) []narration.Voice {
	var voices []narration.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		lang := strings.ReplaceAll(fields[len(fields)-1], "_", "-")
		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, narration.Voice{Name: name, Lang: lang, Local: true})
	}
	return voices
}

// parseEspeakVoices reads the `espeak-ng --voices` table:
// "Pty Language Age/Gender VoiceName File Other Languages".
func parseEspeakVoices(out []byte) []narration.Voice {
	var voices []narration.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, narration.Voice{Name: fields[3], Lang: fields[1], Local: true})
	}
	return voices
}

func (s *ExecSpeech) args(u narration.Utterance) []string {
	wpm := strconv.Itoa(int(baseWPM * rateOrDefault(u.Rate)))
	if s.isSay() {
		args := []string{"-r", wpm}
		if u.Voice != nil {
			args = append(args, "-v", u.Voice.Name)
		}
		return append(args, "--", u.Text)
	}

	args := []string{
		"-s", wpm,
		"-p", strconv.Itoa(int(50 * orOne(u.Pitch))),
		"-a", strconv.Itoa(int(100 * orOne(u.Volume))),
	}
	if u.Voice != nil {
		args = append(args, "-v", u.Voice.Lang)
	}
	return append(args, "--", u.Text)
}

func rateOrDefault(r float64) float64 {
	if r <= 0 {
		return narration.Rate
	}
	return r
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

// Speak runs the engine and waits for it to finish. Cancelling ctx kills it.
func (s *ExecSpeech) Speak(ctx context.Context, u narration.Utterance) error {
	if s.bin == "" {
		return ErrUnsupported
	}
	cmd := exec.CommandContext(ctx, s.bin, s.args(u)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start speech: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
	}()

	err := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		s.log.WithError(err).Debug("speech engine exited with error")
		return fmt.Errorf("speech: %w", err)
	}
	return nil
}

func (s *ExecSpeech) Pause() error  { return s.signal(stopSignal) }
func (s *ExecSpeech) Resume() error { return s.signal(contSignal) }

func (s *ExecSpeech) signal(sig signalFunc) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return sig(cmd)
}
