package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/utils"
)

const Greeting = "Hello. I'm your crisis counselor. I'm here to help you through this. What's happening?"

const (
	msgConfigError     = "Configuration error: Agent ID not set. Please check ELEVENLABS_AGENT_ID"
	msgMicrophone      = "Microphone access is required to use this service"
	msgConnectionError = "Connection error occurred. Please try again."
	msgConnectFailed   = "Failed to connect to the counselor. Please try again."
)

type MessageType string

const (
	MessageAgent    MessageType = "agent"
	MessageUser     MessageType = "user"
	MessageToolCall MessageType = "tool_call"
	MessageError    MessageType = "error"
)

// DiagMessage is an entry in the adapter's running message list. It is for
// display and debugging; the transcript lives in the session.
type DiagMessage struct {
	Type      MessageType     `json:"type"`
	Content   string          `json:"content,omitempty"`
	ToolName  models.ToolName `json:"tool_name,omitempty"`
	ToolArgs  json.RawMessage `json:"tool_args,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sessions is the part of the session store the adapter drives.
type Sessions interface {
	SetStatus(ctx context.Context, next models.Status) error
	AppendTranscript(ctx context.Context, speaker models.Speaker, text string) models.TranscriptEntry
}

// Tools runs agent-requested tools.
type Tools interface {
	Invoke(ctx context.Context, name models.ToolName, params json.RawMessage) (any, error)
}

// DisconnectFunc is told whether the close was asked for locally and, if
// not, why the connection dropped.
type DisconnectFunc func(userInitiated bool, err error)

type latch int

const (
	latchIdle latch = iota
	latchConnecting
	latchConnected
)

type Options struct {
	AgentID    string
	Transport  Transport
	Microphone Microphone
	Sessions   Sessions
	Tools      Tools
	Logger     *logrus.Logger

	// OnDisconnect decides what an unexpected drop means for the session.
	OnDisconnect DisconnectFunc
}

type Adapter struct {
	agentID   string
	transport Transport
	mic       Microphone
	sessions  Sessions
	tools     Tools
	log       *logrus.Logger

	mu           sync.Mutex
	state        latch
	closing      bool
	messages     []DiagMessage
	onDisconnect DisconnectFunc

	// ctx for events arriving after Connect returns
	bg context.Context
}

func NewAdapter(opts Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Adapter{
		agentID:      opts.AgentID,
		transport:    opts.Transport,
		mic:          opts.Microphone,
		sessions:     opts.Sessions,
		tools:        opts.Tools,
		log:          opts.Logger,
		onDisconnect: opts.OnDisconnect,
		bg:           context.Background(),
	}
}

// SetDisconnectHook replaces the OnDisconnect hook.
func (a *Adapter) SetDisconnectHook(fn DisconnectFunc) {
	a.mu.Lock()
	a.onDisconnect = fn
	a.mu.Unlock()
}

// Connect opens the voice conversation. A second call while one is pending
// or open does nothing.
func (a *Adapter) Connect(ctx context.Context) error {
	const op = "Adapter.Connect"

	a.mu.Lock()
	if a.state != latchIdle {
		a.mu.Unlock()
		return nil
	}
	a.state = latchConnecting
	a.closing = false
	a.mu.Unlock()

	if a.agentID == "" {
		a.log.Error("voice agent id not configured; set ELEVENLABS_AGENT_ID")
		return a.connectFailed(ctx, msgConfigError, utils.E(utils.CodeConfiguration, op, msgConfigError, nil))
	}

	if a.mic != nil {
		if err := a.mic.RequestAccess(ctx); err != nil {
			a.log.WithError(err).Warn("microphone unavailable")
			return a.connectFailed(ctx, msgMicrophone, utils.E(utils.CodePermissionDenied, op, msgMicrophone, err))
		}
	}

	cfg := Config{
		AgentID: a.agentID,
		Handlers: Handlers{
			OnConnect:    a.handleConnect,
			OnDisconnect: a.handleDisconnect,
			OnMessage:    a.handleMessage,
			OnError:      a.handleError,
		},
		ClientTools: map[string]ClientTool{
			string(models.ToolAlertEmergencyServices): a.clientTool(models.ToolAlertEmergencyServices),
			string(models.ToolProvideLocalResource):   a.clientTool(models.ToolProvideLocalResource),
		},
	}

	if a.abandoned() {
		return nil
	}
	if err := a.transport.Connect(ctx, cfg); err != nil {
		if a.abandoned() {
			a.log.WithError(err).Info("voice agent connect abandoned")
			return nil
		}
		a.log.WithError(err).Error("voice agent connect failed")
		return a.connectFailed(ctx, "Failed to connect: "+err.Error(), utils.E(utils.CodeUnavailable, op, msgConnectFailed, err))
	}

	a.mu.Lock()
	if a.state != latchConnecting {
		// Disconnect ran before the transport registered its dial.
		a.mu.Unlock()
		if err := a.transport.EndSession(ctx); err != nil {
			a.log.WithError(err).Warn("failed to end abandoned voice session")
		}
		return nil
	}
	a.state = latchConnected
	a.mu.Unlock()
	a.log.Info("voice session started")
	return nil
}

// abandoned reports whether Disconnect ran while Connect was in progress.
func (a *Adapter) abandoned() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == latchIdle && a.closing
}

func (a *Adapter) connectFailed(ctx context.Context, diag string, err error) error {
	a.mu.Lock()
	a.state = latchIdle
	a.mu.Unlock()

	a.addMessage(DiagMessage{Type: MessageError, Content: diag})
	if serr := a.sessions.SetStatus(ctx, models.StatusError); serr != nil {
		a.log.WithError(serr).Debug("session status not moved to error")
	}
	return err
}

// Disconnect ends the conversation. It is safe to call when never connected.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == latchIdle && a.transport.Status() == TransportDisconnected {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	a.state = latchIdle
	a.mu.Unlock()

	if err := a.transport.EndSession(ctx); err != nil {
		a.log.WithError(err).Warn("failed to end voice session")
	} else {
		a.log.Info("voice session ended")
	}
	return nil
}

func (a *Adapter) Status() TransportStatus { return a.transport.Status() }
func (a *Adapter) IsSpeaking() bool        { return a.transport.IsSpeaking() }

// Messages returns the diagnostic message list in arrival order.
func (a *Adapter) Messages() []DiagMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]DiagMessage, len(a.messages))
	copy(out, a.messages)
	return out
}

// ClearMessages drops the diagnostic list, e.g. when a new session starts.
func (a *Adapter) ClearMessages() {
	a.mu.Lock()
	a.messages = nil
	a.mu.Unlock()
}

func (a *Adapter) addMessage(m DiagMessage) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	a.mu.Lock()
	a.messages = append(a.messages, m)
	a.mu.Unlock()
}

func (a *Adapter) handleConnect() {
	a.mu.Lock()
	idle := a.state == latchIdle
	a.mu.Unlock()
	if idle {
		a.log.Debug("voice agent connected after disconnect; ignored")
		return
	}
	a.log.Info("connected to voice agent")
	a.addMessage(DiagMessage{Type: MessageAgent, Content: Greeting})
	a.sessions.AppendTranscript(a.bg, models.SpeakerAI, Greeting)
	if err := a.sessions.SetStatus(a.bg, models.StatusActive); err != nil {
		a.log.WithError(err).Warn("session could not become active")
	}
}

func (a *Adapter) handleDisconnect(err error) {
	a.mu.Lock()
	userInitiated := a.closing
	a.closing = false
	a.state = latchIdle
	hook := a.onDisconnect
	a.mu.Unlock()

	a.log.WithError(err).WithField("user_initiated", userInitiated).Info("disconnected from voice agent")
	if hook != nil {
		hook(userInitiated, err)
	}
}

func (a *Adapter) handleMessage(m Message) {
	switch m.Source {
	case "ai", "agent":
		a.addMessage(DiagMessage{Type: MessageAgent, Content: m.Text})
		a.sessions.AppendTranscript(a.bg, models.SpeakerAI, m.Text)
	case "user":
		a.addMessage(DiagMessage{Type: MessageUser, Content: m.Text})
		a.sessions.AppendTranscript(a.bg, models.SpeakerUser, m.Text)
	default:
		a.log.WithFields(logrus.Fields{"source": m.Source, "text": m.Text}).Debug("voice agent message")
	}
}

func (a *Adapter) handleError(err error) {
	a.log.WithError(err).Error("voice agent error")
	a.addMessage(DiagMessage{Type: MessageError, Content: msgConnectionError})
}

// clientTool wraps a dispatcher tool for the transport. Failures become the
// JSON literal null so the agent always gets an answer.
func (a *Adapter) clientTool(name models.ToolName) ClientTool {
	return func(ctx context.Context, params json.RawMessage) (string, error) {
		a.addMessage(DiagMessage{Type: MessageToolCall, ToolName: name, ToolArgs: params})

		out, err := a.tools.Invoke(ctx, name, params)
		if err != nil {
			a.log.WithError(err).WithField("tool", name).Error("tool execution failed")
			return "null", nil
		}
		b, err := json.Marshal(out)
		if err != nil {
			return "null", nil
		}
		return string(b), nil
	}
}
