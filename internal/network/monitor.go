// Package network tracks whether the host can reach the internet.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval = 15 * time.Second
	probeTimeout    = 5 * time.Second
)

// Monitor probes a URL on an interval. Any HTTP answer counts as online; a
// transport error counts as offline.
type Monitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *logrus.Logger

	mu        sync.RWMutex
	online    bool
	listeners []func(bool)
}

// NewMonitor starts out online. An empty url disables probing.
func NewMonitor(url string, interval time.Duration, l *logrus.Logger) *Monitor {
	if l == nil {
		l = logrus.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
		log:      l,
		online:   true,
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnChange registers fn to be called with the new value on every flip.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	ls := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	m.log.WithField("online", online).Info("network status changed")
	for _, fn := range ls {
		fn(online)
	}
}

// Check probes once and returns the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.url == "" {
		return m.Online()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		m.log.WithError(err).Warn("invalid network probe url")
		return m.Online()
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return m.Online()
		}
		m.log.WithError(err).Debug("network probe failed")
		m.set(false)
		return false
	}
	resp.Body.Close()
	m.set(true)
	return true
}

// Run probes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.url == "" {
		<-ctx.Done()
		return
	}
	m.Check(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}
