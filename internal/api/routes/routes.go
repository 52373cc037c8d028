package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yoockh/crisishelp/internal/api/handlers"
	"github.com/yoockh/crisishelp/internal/api/middleware"
)

type Deps struct {
	Session     *handlers.SessionHandler
	Emergency   *handlers.EmergencyHandler
	Preferences *handlers.PreferencesHandler
	Guides      *handlers.GuideHandler
	WS          *handlers.WSHandler

	// JWTSecret turns on bearer auth for everything but /ping, /sos and the
	// resource directory.
	JWTSecret string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Emergency help never waits on auth.
	r.POST("/sos", d.Emergency.SOS)
	r.GET("/resources", d.Emergency.Resources)
	r.GET("/resources/:type", d.Emergency.Resource)

	api := r.Group("/")
	if d.JWTSecret != "" {
		api.Use(middleware.JWTAuth(d.JWTSecret))
	}

	api.GET("/session", d.Session.Get)
	api.POST("/session/start", d.Session.Start)
	api.POST("/session/end", d.Session.End)
	api.POST("/session/reset", d.Session.Reset)
	api.GET("/session/transcript", d.Session.Transcript)
	api.GET("/session/messages", d.Session.Messages)

	api.GET("/location", d.Emergency.Location)

	api.GET("/preferences", d.Preferences.Get)
	api.PUT("/preferences", d.Preferences.Update)
	api.DELETE("/preferences", middleware.RequireOperator(), d.Preferences.Clear)

	api.GET("/guides", d.Guides.List)
	api.POST("/guides/:name/open", d.Guides.Open)
	api.GET("/narration", d.Guides.State)
	api.POST("/narration/pause", d.Guides.Pause)
	api.POST("/narration/resume", d.Guides.Resume)
	api.POST("/narration/cancel", d.Guides.Cancel)

	// WebSocket
	api.GET("/ws/events", d.WS.Events)
}
