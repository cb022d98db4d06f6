package mail

import (
	"context"
	"time"
)

// Summary is a mailbox message as returned by a listing
type Summary struct {
	ID      string
	Subject string
	From    string
	Date    time.Time
}

// Headers are the message headers the poller classifies on
type Headers struct {
	ID        string
	Subject   string
	From      string
	Date      time.Time
	MessageID string
	Snippet   string
}

// Source lists and reads notification messages from the mail account
type Source interface {
	List(ctx context.Context, filter string) ([]Summary, error)
	Get(ctx context.Context, id string) (*Headers, error)
	Close() error
}
