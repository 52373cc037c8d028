package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/tools"
)

type EmergencyService interface {
	SOS(ctx context.Context) models.AlertResult
	Location(ctx context.Context) (*models.Location, error)
	Resource(ctx context.Context, t models.ResourceType) (*models.EmergencyResource, error)
}

type EmergencyHandler struct {
	svc EmergencyService
}

func NewEmergencyHandler(svc EmergencyService) *EmergencyHandler {
	return &EmergencyHandler{svc: svc}
}

// SOS answers 200 even when nothing got through; the body says what did.
func (h *EmergencyHandler) SOS(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.SOS(c.Request.Context()))
}

type LocationResponse struct {
	models.Location
	MapLink string `json:"map_link"`
}

func (h *EmergencyHandler) Location(c *gin.Context) {
	loc, err := h.svc.Location(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, LocationResponse{Location: *loc, MapLink: tools.MapLink(*loc)})
}

type ResourceResponse struct {
	Type models.ResourceType `json:"type"`
	models.EmergencyResource
	Display string `json:"display_phone"`
}

func (h *EmergencyHandler) Resources(c *gin.Context) {
	out := make([]ResourceResponse, 0, 2)
	for _, t := range []models.ResourceType{models.ResourceMentalHealth, models.ResourcePoisonControl} {
		r, err := h.svc.Resource(c.Request.Context(), t)
		if err != nil {
			continue
		}
		out = append(out, ResourceResponse{Type: t, EmergencyResource: *r, Display: tools.FormatPhoneNumber(r.Phone)})
	}
	c.JSON(http.StatusOK, gin.H{
		"resources":        out,
		"directory":        tools.Directory,
		"offline_contacts": tools.OfflineContacts,
	})
}

func (h *EmergencyHandler) Resource(c *gin.Context) {
	t := models.ResourceType(c.Param("type"))
	r, err := h.svc.Resource(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResourceResponse{Type: t, EmergencyResource: *r, Display: tools.FormatPhoneNumber(r.Phone)})
}
