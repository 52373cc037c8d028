package workers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/session"
)

// Broker is the slice of Redis the publisher writes to.
type Broker interface {
	Publish(ctx context.Context, channel string, payload string) error
	Append(ctx context.Context, stream string, maxLen int64, values map[string]any) error
}

type RedisBroker struct {
	Client *redis.Client
}

func (b RedisBroker) Publish(ctx context.Context, channel string, payload string) error {
	return b.Client.Publish(ctx, channel, payload).Err()
}

func (b RedisBroker) Append(ctx context.Context, stream string, maxLen int64, values map[string]any) error {
	return b.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

// StatusChannel is the pub/sub channel a session's snapshots go to.
func StatusChannel(sessionID string) string {
	return "session:" + sessionID + ":status"
}

// StatusPublisher mirrors session snapshots to Redis: every snapshot is
// published on the session's status channel, and status changes are
// appended to a capped stream for later inspection.
type StatusPublisher struct {
	Broker Broker
	Logger *logrus.Logger

	Stream    string
	MaxLen    int64
	QueueSize int

	queue chan session.State

	// last status appended to the stream; a store has one session at a time
	lastID     string
	lastStatus models.Status
}

// Attach subscribes to store and returns the unsubscribe func. When the queue
// is full the oldest queued snapshot is dropped so the newest always goes out.
func (p *StatusPublisher) Attach(store *session.Store) func() {
	p.init()
	return store.Subscribe(func(st session.State) {
		for {
			select {
			case p.queue <- st:
				return
			default:
			}
			select {
			case old := <-p.queue:
				p.Logger.WithFields(logrus.Fields{"session_id": old.SessionID, "status": old.Status}).Debug("status publish queue full; dropped oldest")
			default:
			}
		}
	})
}

func (p *StatusPublisher) init() {
	if p.queue != nil {
		return
	}
	if p.Stream == "" {
		p.Stream = "crisis:session-events"
	}
	if p.MaxLen <= 0 {
		p.MaxLen = 10000
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 64
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
	p.queue = make(chan session.State, p.QueueSize)
}

// Run publishes until ctx is done.
func (p *StatusPublisher) Run(ctx context.Context) error {
	if p.Broker == nil {
		return errors.New("StatusPublisher missing dependency: Broker must be set")
	}
	p.init()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-p.queue:
			p.publish(ctx, st)
		}
	}
}

type statusEvent struct {
	Type  string        `json:"type"`
	State session.State `json:"state"`
}

func (p *StatusPublisher) publish(ctx context.Context, st session.State) {
	if st.SessionID == "" {
		return
	}
	log := p.Logger.WithFields(logrus.Fields{"session_id": st.SessionID, "status": st.Status})

	payload, err := json.Marshal(statusEvent{Type: "session", State: st})
	if err != nil {
		log.WithError(err).Warn("status marshal failed")
		return
	}
	if err := p.Broker.Publish(ctx, StatusChannel(st.SessionID), string(payload)); err != nil {
		log.WithError(err).Warn("status publish failed")
	}

	if p.lastID == st.SessionID && p.lastStatus == st.Status {
		return
	}
	p.lastID, p.lastStatus = st.SessionID, st.Status

	// incognito sessions stay out of the durable stream
	if st.Incognito {
		return
	}
	if err := p.Broker.Append(ctx, p.Stream, p.MaxLen, map[string]any{
		"session_id": st.SessionID,
		"status":     string(st.Status),
		"ts_unix":    time.Now().UTC().Unix(),
	}); err != nil {
		log.WithError(err).Warn("status stream append failed")
	}
}
