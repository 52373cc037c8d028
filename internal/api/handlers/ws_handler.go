package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/services"
	"github.com/yoockh/crisishelp/internal/session"
)

// EventSource is what the event stream listens to and controls.
type EventSource interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
	OnNotice(fn func(services.Notice)) func()
	End(ctx context.Context) (session.State, error)
	SOS(ctx context.Context) models.AlertResult
}

type WSHandler struct {
	src      EventSource
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(src EventSource, l *logrus.Logger) *WSHandler {
	if l == nil {
		l = logrus.New()
	}
	return &WSHandler{
		src: src,
		log: l,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin once the web client has a fixed host
		},
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // end_session|sos
}

type wsServerMsg struct {
	Type    string              `json:"type"` // state|notice|sos_result|error
	State   *session.State      `json:"state,omitempty"`
	Notice  *services.Notice    `json:"notice,omitempty"`
	Alert   *models.AlertResult `json:"alert,omitempty"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
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

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// Events streams session snapshots and notices to the client, starting with
// the current state. Clients may send end_session or sos.
func (h *WSHandler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := make(chan wsServerMsg, 64)
	push := func(m wsServerMsg) {
		select {
		case out <- m:
		default:
			h.log.WithField("type", m.Type).Warn("event stream backlog full, dropping")
		}
	}

	unsubState := h.src.Subscribe(func(st session.State) {
		push(wsServerMsg{Type: "state", State: &st})
	})
	defer unsubState()
	unsubNotice := h.src.OnNotice(func(n services.Notice) {
		push(wsServerMsg{Type: "notice", Notice: &n})
	})
	defer unsubNotice()

	initial := h.src.State()
	if err := wc.writeJSON(wsServerMsg{Type: "state", State: &initial}); err != nil {
		return
	}

	// reader: client commands
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				push(wsServerMsg{Type: "error", Code: "INVALID_ARGUMENT", Message: "invalid json"})
				continue
			}

			switch msg.Type {
			case "end_session":
				if _, err := h.src.End(ctx); err != nil {
					push(wsServerMsg{Type: "error", Code: "INTERNAL", Message: "failed to end session"})
				}
			case "sos":
				res := h.src.SOS(ctx)
				push(wsServerMsg{Type: "sos_result", Alert: &res})
			default:
				push(wsServerMsg{Type: "error", Code: "INVALID_ARGUMENT", Message: "unknown message type"})
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	// writer
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case m := <-out:
			if err := wc.writeJSON(m); err != nil {
				return
			}
		}
	}
}
