package handler

import (
	"time"

	"inquiry-relay-go/internal/model"
	"inquiry-relay-go/internal/queue"
)

// StatusResponse represents the operational status
type StatusResponse struct {
	Queue  queue.Status      `json:"queue"`
	Poller PollerStatus      `json:"poller"`
	Store  model.StatusStats `json:"store"`
}

// PollerStatus represents the poll scheduler state
type PollerStatus struct {
	IsRunning bool       `json:"is_running"`
	Schedule  string     `json:"schedule"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	Store             string    `json:"store"`
	GenerationService string    `json:"generation_service"`
	Poller            string    `json:"poller"`
	Queue             string    `json:"queue"`
}

// InquiryListResponse represents a page of inquiries
type InquiryListResponse struct {
	Inquiries []model.InquiryRecord `json:"inquiries"`
	Count     int                   `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
