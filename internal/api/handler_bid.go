package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"workbridge/internal/service"
)

type BidHandler struct {
	bidService *service.BidService
}

func NewBidHandler(bidService *service.BidService) *BidHandler {
	return &BidHandler{
		bidService: bidService,
	}
}

// Submit handles POST /bids
func (h *BidHandler) Submit(c *gin.Context) {
	var req service.SubmitBidInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	bid, err := h.bidService.Submit(c.Request.Context(), principal(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bid": bid})
}

// Shortlist handles POST /bids/:id/shortlist
func (h *BidHandler) Shortlist(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid id"})
		return
	}

	if err := h.bidService.Shortlist(c.Request.Context(), principal(c), id); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "shortlisted"})
}

// Reject handles POST /bids/:id/reject
func (h *BidHandler) Reject(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid id"})
		return
	}

	if err := h.bidService.Reject(c.Request.Context(), principal(c), id); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// Accept handles POST /bids/:id/accept
func (h *BidHandler) Accept(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid id"})
		return
	}

	bid, err := h.bidService.Accept(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bid": bid})
}
