package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/crisishelp/internal/conversation"
	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/services"
	"github.com/yoockh/crisishelp/internal/session"
)

// SessionService is the session lifecycle as the HTTP surface sees it.
type SessionService interface {
	State() session.State
	Transcript() []models.TranscriptEntry
	Messages() []conversation.DiagMessage
	Start(ctx context.Context, opts services.StartOptions) (session.State, error)
	End(ctx context.Context) (session.State, error)
	Reset(ctx context.Context) session.State
}

type SessionHandler struct {
	svc SessionService
}

func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type StartSessionRequest struct {
	AutoCallEmergency *bool `json:"auto_call_emergency"`
	Incognito         *bool `json:"incognito_mode"`
}

func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.State())
}

func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if !bindOptionalJSON(c, "SessionHandler.Start", &req) {
		return
	}

	st, err := h.svc.Start(c.Request.Context(), services.StartOptions{
		AutoCallEmergency: req.AutoCallEmergency,
		Incognito:         req.Incognito,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *SessionHandler) End(c *gin.Context) {
	st, err := h.svc.End(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *SessionHandler) Reset(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Reset(c.Request.Context()))
}

func (h *SessionHandler) Transcript(c *gin.Context) {
	entries := h.svc.Transcript()
	if entries == nil {
		entries = []models.TranscriptEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *SessionHandler) Messages(c *gin.Context) {
	msgs := h.svc.Messages()
	if msgs == nil {
		msgs = []conversation.DiagMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
