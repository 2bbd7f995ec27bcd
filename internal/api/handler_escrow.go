package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"workbridge/internal/service"
)

type EscrowHandler struct {
	escrowService *service.EscrowService
}

func NewEscrowHandler(escrowService *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{
		escrowService: escrowService,
	}
}

// Fund handles POST /milestones/:id/fund
func (h *EscrowHandler) Fund(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	result, err := h.escrowService.FundMilestone(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Release handles POST /milestones/:id/release
func (h *EscrowHandler) Release(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone id"})
		return
	}

	payment, err := h.escrowService.ReleaseEscrow(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

// Refund handles POST /contracts/:id/refund
func (h *EscrowHandler) Refund(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return
	}

	refunded, err := h.escrowService.RefundEscrow(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunded": refunded})
}
