package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"workbridge/internal/service"
)

type MilestoneHandler struct {
	milestoneService *service.MilestoneService
}

func NewMilestoneHandler(milestoneService *service.MilestoneService) *MilestoneHandler {
	return &MilestoneHandler{
		milestoneService: milestoneService,
	}
}

// RecordProgress handles POST /milestones/:id/progress
func (h *MilestoneHandler) RecordProgress(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	var req service.RecordProgressInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	milestone, err := h.milestoneService.RecordProgress(c.Request.Context(), principal(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"milestone": milestone})
}

// ListProgress handles GET /milestones/:id/progress
func (h *MilestoneHandler) ListProgress(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	updates, err := h.milestoneService.ListProgress(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"progress": updates})
}

// UpdateDetails handles PUT /milestones/:id
func (h *MilestoneHandler) UpdateDetails(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	var req service.MilestoneDetailsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	milestone, err := h.milestoneService.UpdateDetails(c.Request.Context(), principal(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"milestone": milestone})
}
