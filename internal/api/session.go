package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"filechat/internal/realtime"
	"filechat/internal/session"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	if err := h.sessions.Register(c.Request.Context(), req.Username, req.Password, req.Email); err != nil {
		c.JSON(remoteStatus(err), gin.H{"error": session.FailureText(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": session.RegisteredText})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	sc, err := h.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(remoteStatus(err), gin.H{"error": session.FailureText(err)})
		return
	}
	h.broadcast(realtime.EventSession, gin.H{"signed_in": true, "user": sc.CurrentUser})
	c.JSON(http.StatusOK, gin.H{"user": sc.CurrentUser})
}

func (h *Handler) me(c *gin.Context) {
	sc, _ := h.sessions.Current()
	c.JSON(http.StatusOK, gin.H{"user": sc.CurrentUser})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.broadcast(realtime.EventSession, gin.H{"signed_in": false})
	c.Status(http.StatusNoContent)
}
