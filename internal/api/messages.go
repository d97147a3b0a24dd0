package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"filechat/internal/auth"
	"filechat/internal/pipeline"
	"filechat/internal/render"
)

type inputRequest struct {
	Text string `json:"text"`
}

func (h *Handler) setInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.pipeline.SetInput(req.Text); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// submitRequest carries optional text; without it the current draft is sent.
type submitRequest struct {
	Text *string `json:"text"`
}

// submit starts a cycle and streams it as server-sent events: "ack" with the
// user message, then "done" with the reply or "error" with the fallback message.
func (h *Handler) submit(c *gin.Context) {
	sc, ok := auth.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	var req submitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	var (
		cycle *pipeline.Cycle
		err   error
	)
	if req.Text != nil {
		cycle, err = h.pipeline.SubmitStaged(c.Request.Context(), sc.AuthToken, *req.Text)
	} else {
		cycle, err = h.pipeline.SubmitDraft(c.Request.Context(), sc.AuthToken)
	}
	switch {
	case errors.Is(err, pipeline.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, pipeline.ErrEmptySubmission):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"cycle_id": cycle.ID, "message": cycle.UserMessage}); err != nil {
		return
	}
	select {
	case <-cycle.Done():
	case <-c.Request.Context().Done():
		// The cycle still resolves; websocket clients see the reply.
		return
	}
	if cause := cycle.Err(); cause != nil {
		_ = sendEvent("error", gin.H{"cycle_id": cycle.ID, "message": cycle.Reply(), "error": cause.Error()})
		return
	}
	_ = sendEvent("done", gin.H{"cycle_id": cycle.ID, "message": cycle.Reply()})
}

func (h *Handler) getTranscript(c *gin.Context) {
	messages := h.transcript.Snapshot()
	if c.Query("format") == "html" {
		var buf bytes.Buffer
		if err := render.Transcript(&buf, messages); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "state": h.pipeline.State()})
}
