package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-message"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"inquiry-relay-go/internal/config"
)

const maxListResults = 100

// NewGmailService creates a Gmail API client authorised with the account refresh token
func NewGmailService(ctx context.Context, cfg *config.GmailConfig, scopes ...string) (*gmail.Service, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}

	// Create token source from refresh token
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return service, nil
}

// GmailSource reads notifications through the Gmail API
type GmailSource struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailSource creates a Gmail API backed source
func NewGmailSource(service *gmail.Service, userEmail string) *GmailSource {
	return &GmailSource{service: service, userEmail: userEmail}
}

// List returns the messages matching the Gmail search query. Gmail only
// returns ids from a listing; headers are read with Get.
func (s *GmailSource) List(ctx context.Context, filter string) ([]Summary, error) {
	response, err := s.service.Users.Messages.List(s.userEmail).
		Q(filter).
		MaxResults(maxListResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	summaries := make([]Summary, 0, len(response.Messages))
	for _, msg := range response.Messages {
		summaries = append(summaries, Summary{ID: msg.Id})
	}
	return summaries, nil
}

// Get reads the headers of a message
func (s *GmailSource) Get(ctx context.Context, id string) (*Headers, error) {
	msg, err := s.service.Users.Messages.Get(s.userEmail, id).
		Format("metadata").
		MetadataHeaders("Subject", "From", "Date", "Message-ID").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return gmailHeaders(msg), nil
}

// Close is a no-op for the Gmail API
func (s *GmailSource) Close() error {
	return nil
}

func gmailHeaders(msg *gmail.Message) *Headers {
	var raw message.Header
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			raw.Add(header.Name, header.Value)
		}
	}

	h := decodeHeaders(msg.Id, raw)
	h.Snippet = msg.Snippet
	if h.Date.IsZero() && msg.InternalDate > 0 {
		h.Date = time.UnixMilli(msg.InternalDate)
	}
	return h
}
