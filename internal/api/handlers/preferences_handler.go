package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/crisishelp/internal/models"
	"github.com/yoockh/crisishelp/internal/services"
	"github.com/yoockh/crisishelp/internal/session"
	"github.com/yoockh/crisishelp/internal/utils"
)

type PreferencesService interface {
	State() session.State
	UpdatePreferences(ctx context.Context, p services.Preferences) (session.State, error)
	ClearData(ctx context.Context) (session.State, error)
}

type PreferencesHandler struct {
	svc PreferencesService
}

func NewPreferencesHandler(svc PreferencesService) *PreferencesHandler {
	return &PreferencesHandler{svc: svc}
}

type PreferencesResponse struct {
	Incognito         bool                     `json:"incognito_mode"`
	AutoCallEmergency bool                     `json:"auto_call_emergency"`
	EmergencyContact  *models.EmergencyContact `json:"emergency_contact"`
}

func preferencesOf(st session.State) PreferencesResponse {
	return PreferencesResponse{
		Incognito:         st.Incognito,
		AutoCallEmergency: st.AutoCallEmergency,
		EmergencyContact:  st.EmergencyContact,
	}
}

func (h *PreferencesHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, preferencesOf(h.svc.State()))
}

func (h *PreferencesHandler) Update(c *gin.Context) {
	const op = "PreferencesHandler.Update"

	var req services.Preferences
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	if req.EmergencyContact != nil && req.EmergencyContact.Phone == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "emergency contact needs a phone number", nil))
		return
	}

	st, err := h.svc.UpdatePreferences(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preferencesOf(st))
}

// Clear ends any session and wipes stored preferences.
func (h *PreferencesHandler) Clear(c *gin.Context) {
	st, err := h.svc.ClearData(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preferencesOf(st))
}
