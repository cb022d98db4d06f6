package notifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gmail "google.golang.org/api/gmail/v1"
)

const maxSendAttempts = 3

// GmailTransport emails notifications to operators through the Gmail API
type GmailTransport struct {
	service             *gmail.Service
	userEmail           string
	errorDestination    string
	approvalDestination string
	now                 func() time.Time
}

// NewGmailTransport creates a Gmail transport. Approval requests go to the
// error destination when no approval destination is configured.
func NewGmailTransport(service *gmail.Service, userEmail, errorDestination, approvalDestination string) *GmailTransport {
	if approvalDestination == "" {
		approvalDestination = errorDestination
	}
	return &GmailTransport{
		service:             service,
		userEmail:           userEmail,
		errorDestination:    errorDestination,
		approvalDestination: approvalDestination,
		now:                 time.Now,
	}
}

// Send emails the notification, retrying when Gmail rate limits the account
func (t *GmailTransport) Send(ctx context.Context, n Notification) error {
	to := t.errorDestination
	if n.Type == TypeApproval || n.Type == TypeSuccess {
		to = t.approvalDestination
	}

	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(t.buildMessage(n, to))),
	}

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		_, err := t.service.Users.Messages.Send(t.userEmail, message).Context(ctx).Do()
		if err == nil {
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send notification (attempt %d/%d): %v", attempt, maxSendAttempts, err)

		if !strings.Contains(err.Error(), "quota") && !strings.Contains(err.Error(), "rate") {
			break
		}
		wait := time.Duration(attempt*attempt) * time.Second
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to send notification: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to send notification: %w", lastErr)
}

func (t *GmailTransport) buildMessage(n Notification, to string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", t.userEmail))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject(n)))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", t.now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString(fmt.Sprintf("X-Notification-ID: %s\r\n", n.ID))
	if n.Kind != "" {
		b.WriteString(fmt.Sprintf("X-Notification-Kind: %s\r\n", n.Kind))
	}
	b.WriteString("\r\n")

	switch n.Type {
	case TypeError:
		b.WriteString(fmt.Sprintf("Kind: %s\r\n", n.Kind))
		b.WriteString(fmt.Sprintf("Time: %s\r\n\r\n", n.CreatedAt.Format(time.RFC3339)))
		b.WriteString(n.Details)
		if n.Kind == KindAuthExpired {
			b.WriteString("\r\n\r\nThe portal session needs to be re-authenticated manually. ")
			b.WriteString("Inquiries keep retrying until then.")
		}
	case TypeApproval:
		a := n.Approval
		if a == nil {
			a = &Approval{TenantName: n.Tenant, GeneratedResponse: n.Preview}
		}
		b.WriteString(fmt.Sprintf("Tenant: %s\r\n", a.TenantName))
		if a.TenantEmail != "" {
			b.WriteString(fmt.Sprintf("Email: %s\r\n", a.TenantEmail))
		}
		if a.ConversationReference != "" {
			b.WriteString(fmt.Sprintf("Conversation: %s\r\n", a.ConversationReference))
		}
		b.WriteString("\r\n---------- Tenant message ----------\r\n")
		b.WriteString(a.TenantMessage)
		b.WriteString("\r\n\r\n---------- Suggested reply ----------\r\n")
		b.WriteString(a.GeneratedResponse)
		b.WriteString("\r\n")
	default:
		b.WriteString(fmt.Sprintf("A reply was sent to %s:\r\n\r\n", n.Tenant))
		b.WriteString(n.Preview)
		b.WriteString("\r\n")
	}

	return b.String()
}

func subject(n Notification) string {
	switch n.Type {
	case TypeError:
		return fmt.Sprintf("[inquiry-relay] %s error", n.Kind)
	case TypeApproval:
		return fmt.Sprintf("[inquiry-relay] Reply to %s awaiting approval", n.Tenant)
	default:
		return fmt.Sprintf("[inquiry-relay] Reply sent to %s", n.Tenant)
	}
}
