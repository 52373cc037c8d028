// Package voice implements conversation.Transport over the ElevenLabs
// conversational AI WebSocket API.
package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/conversation"
)

const DefaultURL = "wss://api.elevenlabs.io/v1/convai/conversation"

// speakingHold is how long after the last audio chunk the agent still counts
// as speaking.
const speakingHold = 500 * time.Millisecond

type ElevenLabs struct {
	URL    string
	APIKey string
	Dialer *websocket.Dialer
	Logger *logrus.Logger

	// OnAudio receives decoded agent audio when set.
	OnAudio func(pcm []byte)

	HandshakeTimeout time.Duration

	mu        sync.Mutex
	conn      *wsConn
	status    conversation.TransportStatus
	closing   bool
	lastAudio time.Time
	done      chan struct{}

	// set while Connect is dialing or awaiting metadata
	pending     bool
	pendingConn *websocket.Conn
	abortDial   context.CancelFunc
}

// ErrConnectAborted is returned by Connect when EndSession ran before the
// conversation was established.
var ErrConnectAborted = errors.New("voice session ended while connecting")

func NewElevenLabs(apiKey string, l *logrus.Logger) *ElevenLabs {
	if l == nil {
		l = logrus.New()
	}
	return &ElevenLabs{
		URL:              DefaultURL,
		APIKey:           apiKey,
		Dialer:           websocket.DefaultDialer,
		Logger:           l,
		HandshakeTimeout: 10 * time.Second,
		status:           conversation.TransportDisconnected,
	}
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) close() error {
	w.mu.Lock()
	_ = w.c.SetWriteDeadline(time.Now().Add(time.Second))
	_ = w.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.mu.Unlock()
	return w.c.Close()
}

// inbound is the union of server event shapes this client reads.
type inbound struct {
	Type string `json:"type"`

	ConversationInitiationMetadataEvent *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	PingEvent *struct {
		EventID int64 `json:"event_id"`
		PingMS  int64 `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	ClientToolCall *struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call,omitempty"`
}

type toolCall struct {
	name   string
	id     string
	params json.RawMessage
}

type toolResult struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

func (e *ElevenLabs) Status() conversation.TransportStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *ElevenLabs) IsSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == conversation.TransportConnected && time.Since(e.lastAudio) < speakingHold
}

func (e *ElevenLabs) setStatus(s conversation.TransportStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Connect dials the agent, sends the initiation message and waits for the
// server's conversation metadata before reporting OnConnect.
func (e *ElevenLabs) Connect(ctx context.Context, cfg conversation.Config) error {
	dialCtx, abort := context.WithCancel(ctx)
	defer abort()

	e.mu.Lock()
	if e.conn != nil || e.pending {
		e.mu.Unlock()
		return errors.New("voice session already open")
	}
	e.status = conversation.TransportConnecting
	e.closing = false
	e.pending = true
	e.abortDial = abort
	e.mu.Unlock()

	conn, err := e.dial(dialCtx, cfg.AgentID)
	if err != nil {
		return e.connectFailed(nil, err)
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return e.connectFailed(conn, ErrConnectAborted)
	}
	e.pendingConn = conn
	e.mu.Unlock()

	wc := &wsConn{c: conn}
	if err := wc.writeJSON(map[string]any{"type": "conversation_initiation_client_data"}); err != nil {
		return e.connectFailed(conn, fmt.Errorf("send initiation: %w", err))
	}

	convID, err := e.awaitMetadata(dialCtx, conn)
	if err != nil {
		return e.connectFailed(conn, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		cancel()
		return e.connectFailed(conn, ErrConnectAborted)
	}
	e.conn = wc
	e.done = done
	e.pending = false
	e.pendingConn = nil
	e.abortDial = nil
	e.status = conversation.TransportConnected
	e.mu.Unlock()

	e.Logger.WithField("conversation_id", convID).Info("voice agent conversation started")

	calls := make(chan toolCall, 16)
	go e.runTools(runCtx, wc, cfg.ClientTools, calls)
	go e.readLoop(runCtx, cancel, wc, cfg.Handlers, calls, done)

	if cfg.Handlers.OnConnect != nil {
		cfg.Handlers.OnConnect()
	}
	return nil
}

// connectFailed closes a half-open conn and clears the pending dial. An
// EndSession that raced the dial turns err into ErrConnectAborted.
func (e *ElevenLabs) connectFailed(conn *websocket.Conn, err error) error {
	if conn != nil {
		_ = conn.Close()
	}
	e.mu.Lock()
	if e.closing {
		err = ErrConnectAborted
	}
	e.pending = false
	e.pendingConn = nil
	e.abortDial = nil
	e.status = conversation.TransportDisconnected
	e.mu.Unlock()
	return err
}

func (e *ElevenLabs) dial(ctx context.Context, agentID string) (*websocket.Conn, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fmt.Errorf("voice url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if e.APIKey != "" {
		header.Set("xi-api-key", e.APIKey)
	}

	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial voice agent: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial voice agent: %w", err)
	}
	return conn, nil
}

func (e *ElevenLabs) awaitMetadata(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(e.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("await conversation metadata: %w", err)
		}
		var ev inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == "conversation_initiation_metadata" {
			if ev.ConversationInitiationMetadataEvent != nil {
				return ev.ConversationInitiationMetadataEvent.ConversationID, nil
			}
			return "", nil
		}
	}
}

func (e *ElevenLabs) readLoop(ctx context.Context, cancel context.CancelFunc, wc *wsConn, h conversation.Handlers, calls chan<- toolCall, done chan struct{}) {
	defer close(done)
	defer cancel()

	var readErr error
	for {
		_, data, err := wc.c.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		var ev inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			e.Logger.WithError(err).Warn("invalid voice agent event")
			continue
		}
		e.handleEvent(ctx, wc, h, ev, calls)
	}

	e.mu.Lock()
	closing := e.closing
	e.conn = nil
	e.status = conversation.TransportDisconnected
	e.mu.Unlock()
	_ = wc.c.Close()

	if closing || websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		if h.OnDisconnect != nil {
			h.OnDisconnect(nil)
		}
		return
	}
	if h.OnError != nil {
		h.OnError(readErr)
	}
	if h.OnDisconnect != nil {
		h.OnDisconnect(readErr)
	}
}

func (e *ElevenLabs) handleEvent(ctx context.Context, wc *wsConn, h conversation.Handlers, ev inbound, calls chan<- toolCall) {
	switch ev.Type {
	case "user_transcript":
		if ev.UserTranscriptionEvent != nil && h.OnMessage != nil {
			h.OnMessage(conversation.Message{Source: "user", Text: ev.UserTranscriptionEvent.UserTranscript})
		}
	case "agent_response":
		if ev.AgentResponseEvent != nil && h.OnMessage != nil {
			h.OnMessage(conversation.Message{Source: "ai", Text: ev.AgentResponseEvent.AgentResponse})
		}
	case "audio":
		e.mu.Lock()
		e.lastAudio = time.Now()
		e.mu.Unlock()
		if ev.AudioEvent != nil && e.OnAudio != nil {
			pcm, err := base64.StdEncoding.DecodeString(ev.AudioEvent.AudioBase64)
			if err != nil {
				e.Logger.WithError(err).Debug("audio decode failed")
				return
			}
			e.OnAudio(pcm)
		}
	case "interruption":
		e.mu.Lock()
		e.lastAudio = time.Time{}
		e.mu.Unlock()
	case "ping":
		if ev.PingEvent == nil {
			return
		}
		if err := wc.writeJSON(map[string]any{"type": "pong", "event_id": ev.PingEvent.EventID}); err != nil {
			e.Logger.WithError(err).Warn("pong failed")
		}
	case "client_tool_call":
		if ev.ClientToolCall == nil {
			return
		}
		select {
		case calls <- toolCall{name: ev.ClientToolCall.ToolName, id: ev.ClientToolCall.ToolCallID, params: ev.ClientToolCall.Parameters}:
		case <-ctx.Done():
		}
	default:
		e.Logger.WithField("type", ev.Type).Debug("voice agent event ignored")
	}
}

// runTools executes tool calls one at a time so they finish in request order.
func (e *ElevenLabs) runTools(ctx context.Context, wc *wsConn, tools map[string]conversation.ClientTool, calls <-chan toolCall) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-calls:
			res := toolResult{Type: "client_tool_result", ToolCallID: c.id}
			log := e.Logger.WithFields(logrus.Fields{"tool": c.name, "tool_call_id": c.id})

			fn, ok := tools[c.name]
			if !ok {
				log.Warn("unknown client tool")
				res.Result = fmt.Sprintf("unknown tool %s", c.name)
				res.IsError = true
			} else {
				out, err := fn(ctx, c.params)
				if err != nil {
					log.WithError(err).Error("client tool failed")
					res.Result = err.Error()
					res.IsError = true
				} else {
					res.Result = out
				}
			}

			if err := wc.writeJSON(res); err != nil {
				log.WithError(err).Warn("tool result not delivered")
			}
		}
	}
}

// EndSession closes the conversation and waits for the reader to finish. A
// Connect still in progress is aborted.
func (e *ElevenLabs) EndSession(ctx context.Context) error {
	e.mu.Lock()
	wc, done := e.conn, e.done
	if wc == nil {
		if e.pending {
			// Connect sees closing and tears the dial down itself.
			e.closing = true
			e.status = conversation.TransportDisconnecting
			abort, pc := e.abortDial, e.pendingConn
			e.mu.Unlock()
			if abort != nil {
				abort()
			}
			if pc != nil {
				_ = pc.Close()
			}
			return nil
		}
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	e.status = conversation.TransportDisconnecting
	e.mu.Unlock()

	err := wc.close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
