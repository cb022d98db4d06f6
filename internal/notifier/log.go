package notifier

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogTransport writes notifications to the application log
type LogTransport struct{}

// Send logs the notification
func (LogTransport) Send(_ context.Context, n Notification) error {
	entry := logrus.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"type":            n.Type,
	})

	switch n.Type {
	case TypeError:
		entry.WithField("kind", n.Kind).Errorf("Inquiry pipeline error: %s", n.Details)
	case TypeApproval:
		if n.Approval != nil {
			entry = entry.WithField("external_id", n.Approval.ExternalID)
		}
		entry.Infof("Reply to %s awaiting approval: %s", n.Tenant, n.Preview)
	default:
		entry.Infof("Reply sent to %s: %s", n.Tenant, n.Preview)
	}
	return nil
}
