package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckFlipsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	m := NewMonitor(srv.URL, 0, nil)
	var changes []bool
	m.OnChange(func(online bool) { changes = append(changes, online) })

	if !m.Check(context.Background()) {
		t.Fatal("expected online while the probe answers")
	}
	if len(changes) != 0 {
		t.Errorf("expected no change while already online, got %v", changes)
	}

	srv.Close()
	if m.Check(context.Background()) {
		t.Fatal("expected offline once the probe fails")
	}
	if m.Online() {
		t.Error("expected Online to report false")
	}
	if len(changes) != 1 || changes[0] {
		t.Errorf("expected a single offline change, got %v", changes)
	}
}

func TestNoProbeURLStaysOnline(t *testing.T) {
	m := NewMonitor("", 0, nil)
	if !m.Check(context.Background()) {
		t.Error("expected online without a probe url")
	}
}
