package model

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an inquiry
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// ErrInvalidTransition is returned when a status change is not part of the inquiry lifecycle
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists every reachable status change. pending is re-entered from
// processing when a reply is handed to a human for approval.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusSent, StatusPending, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether an inquiry may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an error wrapping ErrInvalidTransition when the change is not allowed
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// InquiryRecord is the durable record of a single tenant inquiry
type InquiryRecord struct {
	ID                    uint       `json:"-" gorm:"primaryKey;autoIncrement"`
	ExternalID            string     `json:"external_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	TenantName            string     `json:"tenant_name" gorm:"type:varchar(255);not null"`
	TenantEmail           *string    `json:"tenant_email,omitempty" gorm:"type:varchar(255)"`
	TenantMessage         string     `json:"tenant_message" gorm:"type:text"`
	GeneratedResponse     *string    `json:"generated_response,omitempty" gorm:"type:text"`
	Status                Status     `json:"status" gorm:"type:varchar(20);not null;index"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	ProcessedAt           *time.Time `json:"processed_at,omitempty"`
	Error                 *string    `json:"error,omitempty" gorm:"type:text"`
	ConversationReference *string    `json:"conversation_reference,omitempty" gorm:"type:varchar(1024)"`
}

// TableName specifies the table name for InquiryRecord
func (InquiryRecord) TableName() string {
	return "inquiries"
}

// AwaitingApproval reports whether a reply was generated and handed to a human
func (r *InquiryRecord) AwaitingApproval() bool {
	return r.Status == StatusPending && r.GeneratedResponse != nil && *r.GeneratedResponse != ""
}

// ResponseUpdate carries the content fields upgraded while an inquiry is processed.
// Nil fields are left untouched.
type ResponseUpdate struct {
	TenantMessage         *string
	ConversationReference *string
	GeneratedResponse     *string
}

// StatusStats holds record counts per status
type StatusStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Add increments the counter for a status
func (s *StatusStats) Add(status Status, n int64) {
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusProcessing:
		s.Processing += n
	case StatusSent:
		s.Sent += n
	case StatusFailed:
		s.Failed += n
	}
	s.Total += n
}
