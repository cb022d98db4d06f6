package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartPoller starts the inquiry poll scheduler
func (h *Handlers) StartPoller(c *gin.Context) {
	if err := h.poller.Start(); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start poller: " + err.Error(),
			Code:    http.StatusConflict,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Poller started successfully",
		"status":  "running",
	})
}

// StopPoller stops the inquiry poll scheduler
func (h *Handlers) StopPoller(c *gin.Context) {
	if err := h.poller.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop poller",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Poller stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce polls the mailbox once
func (h *Handlers) RunOnce(c *gin.Context) {
	result, err := h.poller.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "poll_error",
			Message: err.Error(),
			Code:    http.StatusBadGateway,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Inquiry poll completed successfully",
		"result":  result,
	})
}

// GetPollerStatus returns the current poller status
func (h *Handlers) GetPollerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.pollerStatus())
}
