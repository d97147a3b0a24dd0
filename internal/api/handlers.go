// Package api is the local HTTP gateway a browser UI uses to drive the chat
// client: session, attachments, draft, submission (SSE), transcript and history.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"filechat/internal/attachment"
	"filechat/internal/auth"
	"filechat/internal/history"
	"filechat/internal/pipeline"
	"filechat/internal/realtime"
	"filechat/internal/remote"
	"filechat/internal/session"
	"filechat/internal/transcript"
)

const maxUploadMemory = 32 << 20

// Deps are the collaborators the gateway drives.
type Deps struct {
	Sessions   *session.Manager
	Guard      *auth.Guard
	Stage      *attachment.Stage
	Picker     *attachment.Picker
	Pipeline   *pipeline.Pipeline
	Transcript *transcript.Transcript
	History    *history.Service
	Hub        *realtime.Hub
}

// Handler wires HTTP routes to the chat client core.
type Handler struct {
	sessions   *session.Manager
	guard      *auth.Guard
	stage      *attachment.Stage
	picker     *attachment.Picker
	pipeline   *pipeline.Pipeline
	transcript *transcript.Transcript
	history    *history.Service
	hub        *realtime.Hub
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		sessions:   d.Sessions,
		guard:      d.Guard,
		stage:      d.Stage,
		picker:     d.Picker,
		pipeline:   d.Pipeline,
		transcript: d.Transcript,
		history:    d.History,
		hub:        d.Hub,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(h.guard.CSRFMiddleware())
	api.GET("/csrf", h.issueCSRF)
	api.POST("/session/register", h.register)
	api.POST("/session/login", h.login)

	authed := api.Group("")
	authed.Use(h.guard.RequireSession())
	authed.GET("/session", h.me)
	authed.POST("/session/logout", h.logout)

	authed.GET("/attachments", h.listAttachments)
	authed.POST("/attachments", h.dropAttachments)
	authed.POST("/attachments/paths", h.pickAttachments)
	authed.DELETE("/attachments/:index", h.removeAttachment)
	authed.DELETE("/attachments", h.clearAttachments)

	authed.PUT("/input", h.setInput)
	authed.POST("/messages", h.submit)
	authed.GET("/transcript", h.getTranscript)

	authed.GET("/history", h.getHistory)
	authed.POST("/history/reload", h.reloadHistory)
	authed.DELETE("/history", h.clearHistory)

	if h.hub != nil {
		authed.GET("/ws", func(c *gin.Context) { h.hub.ServeWs(c.Writer, c.Request) })
	}
}

func (h *Handler) issueCSRF(c *gin.Context) {
	token, err := h.guard.IssueCSRFToken(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "header": h.guard.CSRFHeaderName()})
}

func (h *Handler) broadcast(event string, payload interface{}) {
	if h.hub != nil {
		h.hub.Broadcast(event, payload)
	}
}

// remoteStatus maps a remote failure onto the gateway response code: client
// errors pass through, everything else is a bad gateway.
func remoteStatus(err error) int {
	var se *remote.StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		return se.StatusCode
	}
	return http.StatusBadGateway
}
