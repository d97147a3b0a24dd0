package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"filechat/internal/attachment"
	"filechat/internal/models"
	"filechat/internal/pipeline"
	"filechat/internal/realtime"
)

type stageResponse struct {
	Files        []models.AttachmentSummary `json:"files"`
	Rejected     []attachment.Rejection     `json:"rejected"`
	MaxCount     int                        `json:"max_count"`
	MaxSizeBytes int64                      `json:"max_size_bytes"`
}

func (h *Handler) stageView(rejected []attachment.Rejection) stageResponse {
	if rejected == nil {
		rejected = []attachment.Rejection{}
	}
	v := h.stage.Validator()
	return stageResponse{
		Files:        models.Summaries(h.stage.Snapshot()),
		Rejected:     rejected,
		MaxCount:     v.MaxCount(),
		MaxSizeBytes: v.MaxSizeBytes(),
	}
}

func (h *Handler) stageChanged(rejected []attachment.Rejection) stageResponse {
	view := h.stageView(rejected)
	h.broadcast(realtime.EventAttachments, view.Files)
	return view
}

func (h *Handler) listAttachments(c *gin.Context) {
	c.JSON(http.StatusOK, h.stageView(nil))
}

// rejectWhileSending answers 409 when a message is in flight; the stage would
// refuse the files anyway.
func (h *Handler) rejectWhileSending(c *gin.Context) bool {
	if !h.pipeline.State().Sending() {
		return false
	}
	c.JSON(http.StatusConflict, gin.H{"error": pipeline.ErrInFlight.Error()})
	return true
}

func (h *Handler) dropAttachments(c *gin.Context) {
	if h.rejectWhileSending(c) {
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	defer c.Request.MultipartForm.RemoveAll()
	headers := c.Request.MultipartForm.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files are required"})
		return
	}
	rejected, err := attachment.AddDropped(h.stage, headers)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.stageChanged(rejected))
}

type pathsRequest struct {
	Paths []string `json:"paths"`
}

func (h *Handler) pickAttachments(c *gin.Context) {
	if h.rejectWhileSending(c) {
		return
	}
	var req pathsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Paths) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "paths are required"})
		return
	}
	rejected, err := h.picker.Pick(c.Request.Context(), req.Paths...)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.stageChanged(rejected))
}

func (h *Handler) removeAttachment(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	if err := h.stage.RemoveAt(index); err != nil {
		if errors.Is(err, attachment.ErrIndexOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.stageChanged(nil))
}

func (h *Handler) clearAttachments(c *gin.Context) {
	h.stage.Clear()
	h.stageChanged(nil)
	c.Status(http.StatusNoContent)
}
