package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"workbridge/internal/service"
)

type ContractHandler struct {
	contractService *service.ContractService
}

func NewContractHandler(contractService *service.ContractService) *ContractHandler {
	return &ContractHandler{
		contractService: contractService,
	}
}

// Create handles POST /contracts
func (h *ContractHandler) Create(c *gin.Context) {
	var req service.CreateContractInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	contract, milestones, err := h.contractService.Create(c.Request.Context(), principal(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"contract":   contract,
		"milestones": milestones,
	})
}

// List handles GET /contracts
func (h *ContractHandler) List(c *gin.Context) {
	contracts, err := h.contractService.ListByUser(c.Request.Context(), principal(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contracts": contracts})
}

// Overview handles GET /contracts/:id
func (h *ContractHandler) Overview(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return
	}

	overview, err := h.contractService.Overview(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// UpdateTerms handles PUT /contracts/:id/terms
func (h *ContractHandler) UpdateTerms(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return
	}

	var req struct {
		Title string `json:"title"`
		Terms string `json:"terms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	contract, err := h.contractService.UpdateTerms(c.Request.Context(), principal(c), id, req.Title, req.Terms)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// Advance handles POST /contracts/:id/advance
func (h *ContractHandler) Advance(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return
	}

	var req struct {
		Stage string `json:"stage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	contract, err := h.contractService.Advance(c.Request.Context(), principal(c), id, req.Stage)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}
