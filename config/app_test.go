package config

import (
	"testing"
	"time"
)

func TestLoadAppDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "SINK_BACKEND", "RECONNECT_ATTEMPTS", "RECONNECT_DELAY", "MAX_SESSION_DURATION", "AUTO_END_IDLE_TIME", "MICROPHONE"} {
		t.Setenv(k, "")
	}
	a := LoadApp()
	if a.Port != "8080" || a.SinkBackend != "none" || a.Microphone != "auto" {
		t.Errorf("unexpected defaults %+v", a)
	}
	if a.ReconnectAttempts != 3 || a.ReconnectDelay != 2*time.Second {
		t.Errorf("unexpected reconnect defaults %d/%v", a.ReconnectAttempts, a.ReconnectDelay)
	}
	if a.MaxSessionDuration != time.Hour || a.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected watchdog defaults %v/%v", a.MaxSessionDuration, a.IdleTimeout)
	}
}

func TestLoadAppOverrides(t *testing.T) {
	t.Setenv("SINK_BACKEND", "Postgres")
	t.Setenv("AUTO_END_IDLE_TIME", "30")
	t.Setenv("RECONNECT_DELAY", "500ms")
	t.Setenv("RECONNECT_ATTEMPTS", "x")

	a := LoadApp()
	if a.SinkBackend != "postgres" {
		t.Errorf("expected lowercased backend, got %q", a.SinkBackend)
	}
	if a.IdleTimeout != 30*time.Second {
		t.Errorf("expected bare seconds, got %v", a.IdleTimeout)
	}
	if a.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", a.ReconnectDelay)
	}
	if a.ReconnectAttempts != 3 {
		t.Errorf("expected default on bad int, got %d", a.ReconnectAttempts)
	}
}
