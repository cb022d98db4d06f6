package service

import (
	"context"

	"inquiry-relay-go/internal/generation"
	"inquiry-relay-go/internal/mail"
	"inquiry-relay-go/internal/model"
	"inquiry-relay-go/internal/notifier"
	"inquiry-relay-go/internal/portal"
	"inquiry-relay-go/internal/queue"
)

// Store persists inquiry records
type Store interface {
	Insert(ctx context.Context, record *model.InquiryRecord) error
	Exists(ctx context.Context, externalID string) (bool, error)
	Get(ctx context.Context, externalID string) (*model.InquiryRecord, error)
	UpdateStatus(ctx context.Context, externalID string, status model.Status, errMsg string) error
	UpdateResponse(ctx context.Context, externalID string, update model.ResponseUpdate) error
	ListByStatus(ctx context.Context, status model.Status) ([]model.InquiryRecord, error)
}

// MailSource lists and reads notification messages
type MailSource interface {
	List(ctx context.Context, filter string) ([]mail.Summary, error)
	Get(ctx context.Context, id string) (*mail.Headers, error)
}

// Portal reads inquiries from and delivers replies to the rental portal
type Portal interface {
	ExtractLatest(ctx context.Context) (*portal.Inquiry, error)
	Deliver(ctx context.Context, ref, text string) error
	ReleaseSession(ctx context.Context) error
}

// Generator writes replies to inquiries
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
}

// Notifier informs operators. Implementations never fail the caller.
type Notifier interface {
	NotifyError(ctx context.Context, kind notifier.Kind, details string)
	NotifySuccess(ctx context.Context, tenant, reply string)
	NotifyForApproval(ctx context.Context, approval notifier.Approval)
}

// Queue is the processing queue as seen by the poller and orchestrator
type Queue interface {
	Enqueue(item queue.Item) bool
	IsQueued(externalID string) bool
	Complete(externalID string)
	Fail(externalID string, cause error) queue.FailOutcome
}
