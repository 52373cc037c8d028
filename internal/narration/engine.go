// Package narration speaks the offline guides through an on-device speech
// synthesizer. It works without any network access.
package narration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	Rate   = 0.85
	Pitch  = 1.0
	Volume = 1.0

	DefaultStepDelay = 1500 * time.Millisecond
)

// voiceRetries is when voice enumeration is attempted, measured from the
// first try. Some engines only report voices after a short warm-up.
var voiceRetries = []time.Duration{0, 100 * time.Millisecond, 500 * time.Millisecond}

var preferredVoices = []string{"Samantha", "Google US English", "Alex"}

type Voice struct {
	Name  string `json:"name"`
	Lang  string `json:"lang"`
	Local bool   `json:"local"`
}

type Utterance struct {
	Text   string
	Voice  *Voice
	Rate   float64
	Pitch  float64
	Volume float64
}

// Synthesizer speaks one utterance at a time. Speak blocks until the
// utterance ends and must stop promptly when ctx is cancelled.
type Synthesizer interface {
	Voices(ctx context.Context) ([]Voice, error)
	Speak(ctx context.Context, u Utterance) error
}

// Pauser is implemented by synthesizers that can hold an utterance.
type Pauser interface {
	Pause() error
	Resume() error
}

type State struct {
	Supported bool   `json:"supported"`
	Speaking  bool   `json:"speaking"`
	Paused    bool   `json:"paused"`
	StepIndex int    `json:"step_index"`
	HasVoices bool   `json:"has_voices"`
	Voice     string `json:"voice,omitempty"`
}

// run is one Speak or SpeakSequence call. Starting a new one stops the old.
type run struct {
	stop chan struct{}
	once sync.Once
}

func newRun() *run { return &run{stop: make(chan struct{})} }

func (r *run) cancel() { r.once.Do(func() { close(r.stop) }) }

func (r *run) cancelled() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

type Engine struct {
	synth    Synthesizer
	log      *logrus.Logger
	onChange func(State)

	mu       sync.Mutex
	voices   []Voice
	voice    *Voice
	speaking bool
	paused   bool
	index    int
	current  *run
}

// NewEngine returns an engine over synth. A nil synth gives an engine whose
// operations do nothing, for hosts without speech support.
func NewEngine(synth Synthesizer, l *logrus.Logger) *Engine {
	if l == nil {
		l = logrus.New()
	}
	return &Engine{synth: synth, log: l, index: -1}
}

// OnChange registers fn to receive the engine state after every change.
func (e *Engine) OnChange(fn func(State)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	s := State{
		Supported: e.synth != nil,
		Speaking:  e.speaking,
		Paused:    e.paused,
		StepIndex: e.index,
		HasVoices: len(e.voices) > 0,
	}
	if e.voice != nil {
		s.Voice = e.voice.Name
	}
	return s
}

func (e *Engine) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Voice(nil), e.voices...)
}

// update applies fn under the lock and then reports the new state.
func (e *Engine) update(fn func()) {
	e.mu.Lock()
	fn()
	s := e.stateLocked()
	cb := e.onChange
	e.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// LoadVoices enumerates the synthesizer's voices on the retry schedule and
// keeps the best pool. It stops at the first non-empty answer.
func (e *Engine) LoadVoices(ctx context.Context) error {
	if e.synth == nil {
		return nil
	}
	start := time.Now()
	var lastErr error
	for _, at := range voiceRetries {
		if wait := at - time.Since(start); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		all, err := e.synth.Voices(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(all) == 0 {
			continue
		}

		pool := SelectPool(all)
		e.update(func() {
			e.voices = pool
			e.voice = PreferredVoice(pool)
		})
		names := make([]string, len(pool))
		for i, v := range pool {
			names[i] = v.Name
		}
		e.log.WithFields(logrus.Fields{"available": len(all), "selected": names}).Debug("speech voices loaded")
		return nil
	}
	if lastErr != nil {
		e.log.WithError(lastErr).Warn("speech voices unavailable")
	}
	return lastErr
}

// SelectPool narrows voices to local English, then local, then English, then
// whatever is left.
func SelectPool(all []Voice) []Voice {
	var local, enLocal, en []Voice
	for _, v := range all {
		isEn := strings.HasPrefix(v.Lang, "en")
		if v.Local {
			local = append(local, v)
			if isEn {
				enLocal = append(enLocal, v)
			}
		}
		if isEn {
			en = append(en, v)
		}
	}
	switch {
	case len(enLocal) > 0:
		return enLocal
	case len(local) > 0:
		return local
	case len(en) > 0:
		return en
	default:
		return append([]Voice(nil), all...)
	}
}

func PreferredVoice(pool []Voice) *Voice {
	for i := range pool {
		for _, name := range preferredVoices {
			if strings.Contains(pool[i].Name, name) {
				v := pool[i]
				return &v
			}
		}
	}
	if len(pool) == 0 {
		return nil
	}
	v := pool[0]
	return &v
}

// begin stops whatever is being spoken and registers a new run. A sequence
// it preempts loses the step index here, since its own reset only applies
// while it is still current.
func (e *Engine) begin() *run {
	r := newRun()
	e.mu.Lock()
	prev := e.current
	e.current = r
	reset := e.index != -1
	e.index = -1
	e.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}
	if reset {
		e.update(func() {})
	}
	return r
}

func (e *Engine) utterance(text string) Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Utterance{Text: text, Voice: e.voice, Rate: Rate, Pitch: Pitch, Volume: Volume}
}

// say speaks one utterance for r. It returns nil when r was cancelled.
func (e *Engine) say(ctx context.Context, r *run, text string) error {
	uctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-uctx.Done():
		}
	}()

	e.update(func() {
		if e.current == r {
			e.speaking = true
			e.paused = false
		}
	})
	err := e.synth.Speak(uctx, e.utterance(text))
	e.update(func() {
		if e.current == r {
			e.speaking = false
			e.paused = false
		}
	})

	if r.cancelled() {
		return nil
	}
	return err
}

// Speak stops anything in progress, including a running sequence, and speaks
// text. It returns when the utterance ends or is cancelled.
func (e *Engine) Speak(ctx context.Context, text string) error {
	if e.synth == nil || text == "" {
		return nil
	}
	r := e.begin()
	err := e.say(ctx, r, text)
	if err != nil {
		e.log.WithError(err).Error("speech failed")
	}
	return err
}

// SpeakSequence speaks steps in order, waiting delay after each one. A later
// Speak, SpeakSequence or Cancel stops it before the next step. The step
// index returns to -1 when the sequence finishes or stops.
func (e *Engine) SpeakSequence(ctx context.Context, steps []string, delay time.Duration) error {
	if e.synth == nil || len(steps) == 0 {
		return nil
	}
	r := e.begin()
	defer e.update(func() {
		if e.current == r {
			e.index = -1
		}
	})

	for i, step := range steps {
		if r.cancelled() || ctx.Err() != nil {
			break
		}
		e.update(func() {
			if e.current == r {
				e.index = i
			}
		})

		if err := e.say(ctx, r, step); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// a failed step moves straight on
			e.log.WithError(err).WithField("step", i).Warn("narration step failed")
			continue
		}
		if r.cancelled() {
			break
		}

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-r.stop:
				t.Stop()
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	return nil
}

// Pause holds the current utterance. It does nothing unless speaking or when
// the synthesizer cannot pause.
func (e *Engine) Pause() {
	p, ok := e.synth.(Pauser)
	if !ok || !e.State().Speaking {
		return
	}
	if err := p.Pause(); err != nil {
		e.log.WithError(err).Debug("speech pause unsupported")
		return
	}
	e.update(func() { e.paused = true })
}

func (e *Engine) Resume() {
	p, ok := e.synth.(Pauser)
	if !ok || !e.State().Paused {
		return
	}
	if err := p.Resume(); err != nil {
		e.log.WithError(err).Debug("speech resume failed")
		return
	}
	e.update(func() { e.paused = false })
}

// Cancel stops the current utterance and any remaining steps.
func (e *Engine) Cancel() {
	if e.synth == nil {
		return
	}
	e.mu.Lock()
	r := e.current
	e.current = nil
	e.mu.Unlock()
	if r != nil {
		r.cancel()
	}
	e.update(func() {
		e.speaking = false
		e.paused = false
		e.index = -1
	})
}
