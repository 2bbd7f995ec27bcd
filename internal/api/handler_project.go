package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"workbridge/internal/service"
)

type ProjectHandler struct {
	projectService *service.ProjectService
	bidService     *service.BidService
}

func NewProjectHandler(projectService *service.ProjectService, bidService *service.BidService) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		bidService:     bidService,
	}
}

// Create handles POST /projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req service.CreateProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	project, err := h.projectService.Create(c.Request.Context(), principal(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// Get handles GET /projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	project, err := h.projectService.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// ListOpen handles GET /projects
func (h *ProjectHandler) ListOpen(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	projects, err := h.projectService.ListOpen(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// ListMine handles GET /projects/mine
func (h *ProjectHandler) ListMine(c *gin.Context) {
	projects, err := h.projectService.ListMine(c.Request.Context(), principal(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// ListBids handles GET /projects/:id/bids
func (h *ProjectHandler) ListBids(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	bids, err := h.bidService.ListByProject(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bids": bids})
}
