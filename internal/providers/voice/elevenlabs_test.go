package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yoockh/crisishelp/internal/conversation"
)

// agentServer plays the remote side of the conversation protocol.
type agentServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	agentID string
	apiKey  string
	conn    *websocket.Conn
	ready   chan struct{}
	got     chan map[string]any
}

func newAgentServer(t *testing.T) (*agentServer, *httptest.Server) {
	s := &agentServer{
		t:     t,
		ready: make(chan struct{}),
		got:   make(chan map[string]any, 32),
	}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *agentServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.agentID = r.URL.Query().Get("agent_id")
	s.apiKey = r.Header.Get("xi-api-key")
	s.conn = conn
	s.mu.Unlock()

	// initiation
	var init map[string]any
	if err := conn.ReadJSON(&init); err != nil {
		return
	}
	s.got <- init
	_ = conn.WriteJSON(map[string]any{
		"type":                                   "conversation_initiation_metadata",
		"conversation_initiation_metadata_event": map[string]any{"conversation_id": "conv-1"},
	})
	close(s.ready)

	for {
		var m map[string]any
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		s.got <- m
	}
}

func (s *agentServer) send(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.t.Errorf("server write: %v", err)
	}
}

func (s *agentServer) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-s.got:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

type events struct {
	mu        sync.Mutex
	connected int
	messages  []conversation.Message
	disc      chan error
	errs      []error
}

func (e *events) handlers() conversation.Handlers {
	return conversation.Handlers{
		OnConnect: func() {
			e.mu.Lock()
			e.connected++
			e.mu.Unlock()
		},
		OnDisconnect: func(err error) { e.disc <- err },
		OnMessage: func(m conversation.Message) {
			e.mu.Lock()
			e.messages = append(e.messages, m)
			e.mu.Unlock()
		},
		OnError: func(err error) {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		},
	}
}

func (e *events) waitMessages(t *testing.T, n int) []conversation.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		if len(e.messages) >= n {
			out := append([]conversation.Message(nil), e.messages...)
			e.mu.Unlock()
			return out
		}
		e.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConversationRoundTrip(t *testing.T) {
	s, srv := newAgentServer(t)
	el := NewElevenLabs("key-123", nil)
	el.URL = wsURL(srv)

	ev := &events{disc: make(chan error, 1)}
	var order []string
	var orderMu sync.Mutex
	toolsMap := map[string]conversation.ClientTool{
		"provide_local_resource": func(_ context.Context, params json.RawMessage) (string, error) {
			orderMu.Lock()
			order = append(order, string(params))
			orderMu.Unlock()
			return `{"phone":"988"}`, nil
		},
	}

	ctx := context.Background()
	err := el.Connect(ctx, conversation.Config{AgentID: "agent-7", Handlers: ev.handlers(), ClientTools: toolsMap})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-s.ready

	if init := s.next(t); init["type"] != "conversation_initiation_client_data" {
		t.Errorf("unexpected initiation %v", init)
	}
	s.mu.Lock()
	if s.agentID != "agent-7" || s.apiKey != "key-123" {
		t.Errorf("unexpected agent/api key %q/%q", s.agentID, s.apiKey)
	}
	s.mu.Unlock()
	if el.Status() != conversation.TransportConnected {
		t.Errorf("expected connected, got %s", el.Status())
	}
	ev.mu.Lock()
	if ev.connected != 1 {
		t.Errorf("expected one OnConnect, got %d", ev.connected)
	}
	ev.mu.Unlock()

	s.send(map[string]any{"type": "user_transcript", "user_transcription_event": map[string]any{"user_transcript": "I can't sleep"}})
	s.send(map[string]any{"type": "agent_response", "agent_response_event": map[string]any{"agent_response": "I'm listening"}})
	msgs := ev.waitMessages(t, 2)
	if msgs[0].Source != "user" || msgs[0].Text != "I can't sleep" {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].Source != "ai" || msgs[1].Text != "I'm listening" {
		t.Errorf("unexpected second message %+v", msgs[1])
	}

	s.send(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 42, "ping_ms": 10}})
	pong := s.next(t)
	if pong["type"] != "pong" || pong["event_id"].(float64) != 42 {
		t.Errorf("unexpected pong %v", pong)
	}

	s.send(map[string]any{"type": "client_tool_call", "client_tool_call": map[string]any{
		"tool_name": "provide_local_resource", "tool_call_id": "c1", "parameters": map[string]any{"type": "mental_health"},
	}})
	s.send(map[string]any{"type": "client_tool_call", "client_tool_call": map[string]any{
		"tool_name": "provide_local_resource", "tool_call_id": "c2", "parameters": map[string]any{"type": "poison_control"},
	}})
	s.send(map[string]any{"type": "client_tool_call", "client_tool_call": map[string]any{
		"tool_name": "nope", "tool_call_id": "c3", "parameters": map[string]any{},
	}})

	r1, r2, r3 := s.next(t), s.next(t), s.next(t)
	if r1["tool_call_id"] != "c1" || r2["tool_call_id"] != "c2" || r3["tool_call_id"] != "c3" {
		t.Errorf("tool results out of order: %v %v %v", r1, r2, r3)
	}
	if r1["type"] != "client_tool_result" || r1["result"] != `{"phone":"988"}` || r1["is_error"] != false {
		t.Errorf("unexpected tool result %v", r1)
	}
	if r3["is_error"] != true {
		t.Errorf("expected unknown tool to be an error, got %v", r3)
	}
	orderMu.Lock()
	if len(order) != 2 || !strings.Contains(order[0], "mental_health") {
		t.Errorf("unexpected tool invocations %v", order)
	}
	orderMu.Unlock()

	if err := el.EndSession(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	select {
	case err := <-ev.disc:
		if err != nil {
			t.Errorf("expected clean disconnect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect callback")
	}
	if el.Status() != conversation.TransportDisconnected {
		t.Errorf("expected disconnected, got %s", el.Status())
	}
}

func TestRemoteDropReportsError(t *testing.T) {
	s, srv := newAgentServer(t)
	el := NewElevenLabs("", nil)
	el.URL = wsURL(srv)

	ev := &events{disc: make(chan error, 1)}
	if err := el.Connect(context.Background(), conversation.Config{AgentID: "a", Handlers: ev.handlers()}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-s.ready

	s.mu.Lock()
	_ = s.conn.NetConn().Close()
	s.mu.Unlock()

	select {
	case err := <-ev.disc:
		if err == nil {
			t.Error("expected an error for an abrupt drop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect callback")
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.errs) != 1 {
		t.Errorf("expected one OnError, got %d", len(ev.errs))
	}
}

func TestConnectFailsWithoutServer(t *testing.T) {
	el := NewElevenLabs("", nil)
	el.URL = "ws://127.0.0.1:1/convai"
	err := el.Connect(context.Background(), conversation.Config{AgentID: "a"})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if el.Status() != conversation.TransportDisconnected {
		t.Errorf("expected disconnected after failure, got %s", el.Status())
	}
}

func TestEndSessionWhenClosedIsNoOp(t *testing.T) {
	el := NewElevenLabs("", nil)
	if err := el.EndSession(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestEndSessionAbortsPendingConnect(t *testing.T) {
	var upgrader websocket.Upgrader
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var init map[string]any
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		time.Sleep(300 * time.Millisecond)
		_ = conn.WriteJSON(map[string]any{"type": "conversation_initiation_metadata"})
	}))
	t.Cleanup(slow.Close)

	el := NewElevenLabs("", nil)
	el.URL = wsURL(slow)
	ev := &events{disc: make(chan error, 1)}

	result := make(chan error, 1)
	go func() {
		result <- el.Connect(context.Background(), conversation.Config{AgentID: "agent-1", Handlers: ev.handlers()})
	}()

	time.Sleep(100 * time.Millisecond)
	if err := el.EndSession(context.Background()); err != nil {
		t.Fatalf("end during connect: %v", err)
	}

	select {
	case err := <-result:
		if err != ErrConnectAborted {
			t.Fatalf("expected ErrConnectAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return after EndSession")
	}

	if st := el.Status(); st != conversation.TransportDisconnected {
		t.Errorf("expected disconnected, got %s", st)
	}
	ev.mu.Lock()
	connected := ev.connected
	ev.mu.Unlock()
	if connected != 0 {
		t.Errorf("expected no OnConnect after abort, got %d", connected)
	}

	// The transport is reusable once the aborted dial is gone.
	_, srv := newAgentServer(t)
	el.URL = wsURL(srv)
	ev2 := &events{disc: make(chan error, 1)}
	if err := el.Connect(context.Background(), conversation.Config{AgentID: "agent-1", Handlers: ev2.handlers()}); err != nil {
		t.Fatalf("reconnect after abort: %v", err)
	}
	if err := el.EndSession(context.Background()); err != nil {
		t.Errorf("end: %v", err)
	}
}
