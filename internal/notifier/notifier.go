package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind classifies an error notification
type Kind string

const (
	KindPolling        Kind = "polling"
	KindExtraction     Kind = "extraction"
	KindGeneration     Kind = "generation"
	KindDelivery       Kind = "delivery"
	KindAuthExpired    Kind = "auth_expired"
	KindStore          Kind = "store"
	KindMismatch       Kind = "mismatch"
	KindRetryExhausted Kind = "retry_exhausted"
)

// Type is the category of a notification
type Type string

const (
	TypeError    Type = "error"
	TypeSuccess  Type = "success"
	TypeApproval Type = "approval"
)

const defaultSendTimeout = 10 * time.Second

const previewLength = 200

// Approval is a generated reply waiting for a human to send it
type Approval struct {
	ExternalID            string `json:"external_id"`
	TenantName            string `json:"tenant_name"`
	TenantEmail           string `json:"tenant_email,omitempty"`
	TenantMessage         string `json:"tenant_message"`
	GeneratedResponse     string `json:"generated_response"`
	ConversationReference string `json:"conversation_reference,omitempty"`
}

// Notification is a single message sent to operators
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Kind      Kind      `json:"kind,omitempty"`
	Details   string    `json:"details,omitempty"`
	Tenant    string    `json:"tenant,omitempty"`
	Preview   string    `json:"preview,omitempty"`
	Approval  *Approval `json:"approval,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Transport delivers notifications to operators
type Transport interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier sends operator notifications. Transport failures are logged and
// never returned, so a broken channel cannot stall inquiry processing.
type Notifier struct {
	transport Transport
	timeout   time.Duration
	now       func() time.Time
}

// New creates a notifier on top of a transport
func New(transport Transport) *Notifier {
	return &Notifier{
		transport: transport,
		timeout:   defaultSendTimeout,
		now:       time.Now,
	}
}

// NotifyError reports a pipeline failure
func (n *Notifier) NotifyError(ctx context.Context, kind Kind, details string) {
	n.send(ctx, Notification{Type: TypeError, Kind: kind, Details: details})
}

// NotifySuccess reports a reply that was delivered automatically
func (n *Notifier) NotifySuccess(ctx context.Context, tenant, reply string) {
	n.send(ctx, Notification{Type: TypeSuccess, Tenant: tenant, Preview: Preview(reply)})
}

// NotifyForApproval hands a generated reply to a human for review
func (n *Notifier) NotifyForApproval(ctx context.Context, approval Approval) {
	n.send(ctx, Notification{
		Type:     TypeApproval,
		Tenant:   approval.TenantName,
		Preview:  Preview(approval.GeneratedResponse),
		Approval: &approval,
	})
}

func (n *Notifier) send(ctx context.Context, notification Notification) {
	notification.ID = uuid.NewString()
	notification.CreatedAt = n.now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	entry := logrus.WithFields(logrus.Fields{
		"notification_id": notification.ID,
		"type":            notification.Type,
		"kind":            notification.Kind,
	})

	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("Notification transport panicked: %v", r)
		}
	}()

	if err := n.transport.Send(ctx, notification); err != nil {
		entry.Errorf("Failed to send notification: %v", err)
		return
	}
	entry.Debug("Notification sent")
}

// Preview truncates text for use in a notification
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}
