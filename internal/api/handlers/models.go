package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Models handles GET /v1/models by listing the configured upstream models in
// the OpenAI list shape.
func (h *ChatHandler) Models(c *gin.Context) {
	created := time.Now().Unix()
	data := make([]gin.H, 0, len(h.cfg.Upstream.Models))
	for _, id := range h.cfg.Upstream.Models {
		data = append(data, gin.H{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "sessionbridge",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// Health handles GET /healthz.
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": h.store.Len(),
	})
}
