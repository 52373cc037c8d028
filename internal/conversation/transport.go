// Package conversation connects a session to the remote voice agent and
// translates the agent's events into transcript entries, status changes and
// tool calls.
package conversation

import (
	"context"
	"encoding/json"
)

// TransportStatus is the voice connection's own view of itself.
type TransportStatus string

const (
	TransportDisconnected  TransportStatus = "disconnected"
	TransportConnecting    TransportStatus = "connecting"
	TransportConnected     TransportStatus = "connected"
	TransportDisconnecting TransportStatus = "disconnecting"
)

// Message is one inbound utterance. Source is "user", "ai" or "agent" for
// speech; transports may use other sources for diagnostics.
type Message struct {
	Source string `json:"source"`
	Text   string `json:"message"`
}

// ClientTool runs a tool the agent asked for and returns its result as a
// JSON string.
type ClientTool func(ctx context.Context, params json.RawMessage) (string, error)

type Handlers struct {
	OnConnect func()
	// OnDisconnect gets nil when the close was requested locally.
	OnDisconnect func(err error)
	OnMessage    func(m Message)
	OnError      func(err error)
}

type Config struct {
	AgentID     string
	Handlers    Handlers
	ClientTools map[string]ClientTool
}

// Transport is the voice-agent connection. Connect returns once the
// conversation is established or has failed; events arrive on cfg.Handlers
// afterwards. Tool calls are run one at a time in the order received.
type Transport interface {
	Connect(ctx context.Context, cfg Config) error
	EndSession(ctx context.Context) error
	Status() TransportStatus
	IsSpeaking() bool
}

// Microphone grants or refuses audio capture.
type Microphone interface {
	RequestAccess(ctx context.Context) error
}
