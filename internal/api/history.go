package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"filechat/internal/auth"
	"filechat/internal/history"
)

// getHistory returns the filtered view, loading from the service on first use.
func (h *Handler) getHistory(c *gin.Context) {
	category, err := history.ParseCategory(c.Query("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	query := c.Query("q")
	if view := h.history.View(query, category); !view.Loaded && view.Error == "" {
		sc, _ := auth.SessionFromContext(c)
		_ = h.history.Load(c.Request.Context(), sc)
	}
	c.JSON(http.StatusOK, h.history.View(query, category))
}

func (h *Handler) reloadHistory(c *gin.Context) {
	sc, _ := auth.SessionFromContext(c)
	status := http.StatusOK
	if err := h.history.Load(c.Request.Context(), sc); err != nil {
		status = remoteStatus(err)
	}
	c.JSON(status, h.history.View("", history.CategoryAll))
}

func (h *Handler) clearHistory(c *gin.Context) {
	sc, _ := auth.SessionFromContext(c)
	if err := h.history.Clear(c.Request.Context(), sc); err != nil {
		c.JSON(remoteStatus(err), gin.H{"error": history.ClearErrorText})
		return
	}
	c.Status(http.StatusNoContent)
}
