package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/crisishelp/internal/models"
)

type job struct {
	kind string
	id   string
	run  func(ctx context.Context) error
}

// Async hands records to a single background worker so callers never wait on
// the backend. Records are written in submission order. When the buffer is
// full the record is dropped with a warning; failed writes are logged and not
// retried.
type Async struct {
	next    Sink
	log     *logrus.Logger
	timeout time.Duration

	jobs chan job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type AsyncOptions struct {
	Buffer  int
	Timeout time.Duration
	Logger  *logrus.Logger
}

func NewAsync(next Sink, opts AsyncOptions) *Async {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	a := &Async{
		next:    next,
		log:     opts.Logger,
		timeout: opts.Timeout,
		jobs:    make(chan job, opts.Buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for j := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := j.run(ctx); err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"record": j.kind,
				"id":     j.id,
			}).Error("persistence write failed")
		}
		cancel()
	}
}

func (a *Async) submit(j job) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.log.WithFields(logrus.Fields{"record": j.kind, "id": j.id}).Warn("persistence closed, record dropped")
		return
	}
	select {
	case a.jobs <- j:
	default:
		a.log.WithFields(logrus.Fields{"record": j.kind, "id": j.id}).Warn("persistence queue full, record dropped")
	}
}

func (a *Async) SaveSession(_ context.Context, s *models.SessionLog) error {
	cp := *s
	a.submit(job{kind: "session", id: cp.SessionID, run: func(ctx context.Context) error {
		return a.next.SaveSession(ctx, &cp)
	}})
	return nil
}

func (a *Async) AddTranscriptEntry(_ context.Context, e *models.TranscriptRecord) error {
	cp := *e
	a.submit(job{kind: "transcript", id: cp.ID, run: func(ctx context.Context) error {
		return a.next.AddTranscriptEntry(ctx, &cp)
	}})
	return nil
}

func (a *Async) LogToolCall(_ context.Context, l *models.ToolLog) error {
	cp := *l
	a.submit(job{kind: "tool_log", id: cp.ID, run: func(ctx context.Context) error {
		return a.next.LogToolCall(ctx, &cp)
	}})
	return nil
}

// Close stops accepting records and waits for queued ones to drain, or for
// ctx to expire.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
