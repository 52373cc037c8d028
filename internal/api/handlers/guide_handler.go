package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/crisishelp/internal/narration"
)

type GuideService interface {
	OpenGuide(ctx context.Context, name string) (narration.Guide, error)
	NarrationState() narration.State
	PauseNarration()
	ResumeNarration()
	CancelNarration()
}

type GuideHandler struct {
	svc GuideService
}

func NewGuideHandler(svc GuideService) *GuideHandler {
	return &GuideHandler{svc: svc}
}

func (h *GuideHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"guides": narration.Guides()})
}

// Open starts narrating a guide. The request context is not tied to the
// narration, which keeps going after the response.
func (h *GuideHandler) Open(c *gin.Context) {
	g, err := h.svc.OpenGuide(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, g)
}

func (h *GuideHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.NarrationState())
}

func (h *GuideHandler) Pause(c *gin.Context) {
	h.svc.PauseNarration()
	c.JSON(http.StatusOK, h.svc.NarrationState())
}

func (h *GuideHandler) Resume(c *gin.Context) {
	h.svc.ResumeNarration()
	c.JSON(http.StatusOK, h.svc.NarrationState())
}

func (h *GuideHandler) Cancel(c *gin.Context) {
	h.svc.CancelNarration()
	c.JSON(http.StatusOK, h.svc.NarrationState())
}
