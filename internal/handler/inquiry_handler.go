package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"inquiry-relay-go/internal/repository"
)

const maxListLimit = 500

// ListInquiries returns the most recent inquiries
func (h *Handlers) ListInquiries(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxListLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be between 1 and 500",
				Code:    http.StatusBadRequest,
			})
			return
		}
		limit = parsed
	}

	inquiries, err := h.store.Recent(c.Request.Context(), limit)
	if err != nil {
		logrus.Errorf("Failed to list inquiries: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve inquiries",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, InquiryListResponse{Inquiries: inquiries, Count: len(inquiries)})
}

// GetInquiry returns one inquiry by external id
func (h *Handlers) GetInquiry(c *gin.Context) {
	externalID := c.Param("external_id")

	inquiry, err := h.store.Get(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Inquiry not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		logrus.Errorf("Failed to get inquiry %s: %v", externalID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve inquiry",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, inquiry)
}
