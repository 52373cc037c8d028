package narration

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/utils"
)

const DefaultAutoStartDelay = time.Second

// NetworkSignal reports whether the host currently has connectivity.
type NetworkSignal interface {
	Online() bool
}

type PlayerOptions struct {
	Network        NetworkSignal
	AutoStartDelay time.Duration
	StepDelay      time.Duration
	// AllowOnline lets guides play while the network is up.
	AllowOnline bool
	Logger      *logrus.Logger
}

// Player runs a whole guide: after the auto-start delay it speaks the
// benefit and then each step. One guide plays at a time.
type Player struct {
	engine *Engine
	opts   PlayerOptions
	log    *logrus.Logger

	mu     sync.Mutex
	active string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlayer(engine *Engine, opts PlayerOptions) *Player {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.AutoStartDelay < 0 {
		opts.AutoStartDelay = 0
	}
	if opts.StepDelay == 0 {
		opts.StepDelay = DefaultStepDelay
	}
	return &Player{engine: engine, opts: opts, log: opts.Logger}
}

// Open starts the named guide in the background, replacing any guide that
// is already playing.
func (p *Player) Open(ctx context.Context, name string) (Guide, error) {
	const op = "Player.Open"

	g, ok := LookupGuide(name)
	if !ok {
		return Guide{}, utils.E(utils.CodeNotFound, op, "guide not found", nil)
	}
	if !p.opts.AllowOnline && p.opts.Network != nil && p.opts.Network.Online() {
		return Guide{}, utils.E(utils.CodeConflict, op, "guided narration is available while offline", nil)
	}

	p.Close()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	p.mu.Lock()
	p.active = g.Name
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.play(runCtx, g, done)
	p.log.WithField("guide", g.Name).Info("guide opened")
	return g, nil
}

func (p *Player) play(ctx context.Context, g Guide, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.active = ""
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	if d := p.opts.AutoStartDelay; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	if err := p.engine.Speak(ctx, g.Benefit); err != nil || ctx.Err() != nil {
		return
	}
	if err := p.engine.SpeakSequence(ctx, g.Steps, p.opts.StepDelay); err != nil && ctx.Err() == nil {
		p.log.WithError(err).WithField("guide", g.Name).Warn("guide narration stopped")
	}
}

// Close stops the playing guide, if any.
func (p *Player) Close() {
	p.mu.Lock()
	cancel, active := p.cancel, p.active
	p.cancel = nil
	p.active = ""
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.engine.Cancel()
	p.log.WithField("guide", active).Info("guide closed")
}

// Active names the guide currently playing, or "".
func (p *Player) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Wait blocks until the current guide finishes or ctx ends.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
