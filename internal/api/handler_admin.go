package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"workbridge/pkg/outbox"
)

// AdminHandler exposes operational endpoints, currently outbox replay for
// events that exhausted their delivery retries.
type AdminHandler struct {
	replay *outbox.ReplayService
}

func NewAdminHandler(replay *outbox.ReplayService) *AdminHandler {
	return &AdminHandler{replay: replay}
}

// ReplayFailed handles POST /admin/outbox/replay
func (h *AdminHandler) ReplayFailed(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Limit <= 0 {
		req.Limit = 100
	}

	count, err := h.replay.ReplayFailedEvents(c.Request.Context(), req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay failed", "replayed": count})
		return
	}

	c.JSON(http.StatusOK, gin.H{"replayed": count})
}

// ReplayOne handles POST /admin/outbox/replay/:id
func (h *AdminHandler) ReplayOne(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := h.replay.ReplayEvent(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "replayed"})
}
