package mail

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"inquiry-relay-go/internal/config"
)

const inbox = "INBOX"

// IMAPSource reads notifications over IMAP. The filter is used as a TEXT
// search term restricted to messages newer than the lookback window.
type IMAPSource struct {
	addr     string
	user     string
	password string
	lookback time.Duration

	mu     sync.Mutex
	client *client.Client
	now    func() time.Time
}

// NewIMAPSource creates an IMAP backed source. The connection is opened lazily.
func NewIMAPSource(cfg *config.GmailConfig, lookback time.Duration) *IMAPSource {
	return &IMAPSource{
		addr:     fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort),
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		lookback: lookback,
		now:      time.Now,
	}
}

// List searches the inbox and returns the matching messages' envelopes
func (s *IMAPSource) List(ctx context.Context, filter string) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.connect()
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if filter != "" {
		criteria.Text = []string{filter}
	}
	if s.lookback > 0 {
		criteria.Since = s.now().Add(-s.lookback)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return []Summary{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var summaries []Summary
	for msg := range messages {
		summary := Summary{ID: strconv.FormatUint(uint64(msg.Uid), 10)}
		if msg.Envelope != nil {
			summary.Subject = msg.Envelope.Subject
			summary.Date = msg.Envelope.Date
			if len(msg.Envelope.From) > 0 {
				summary.From = formatAddress(msg.Envelope.From[0])
			}
		}
		summaries = append(summaries, summary)
	}

	if err := <-done; err != nil {
		s.reset()
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Date.Before(summaries[j].Date) })
	return summaries, nil
}

// Get fetches the header section of a message without marking it seen
func (s *IMAPSource) Get(ctx context.Context, id string) (*Headers, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.connect()
	if err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchUid}, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		s.reset()
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}

	r := msg.GetBody(section)
	if r == nil {
		return nil, fmt.Errorf("message %s has no header section", id)
	}
	return parseHeaderBlock(id, r)
}

// Close logs out of the IMAP server
func (s *IMAPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Logout()
	s.client = nil
	return err
}

func (s *IMAPSource) connect() (*client.Client, error) {
	if s.client != nil && s.client.State() != imap.LogoutState {
		return s.client, nil
	}

	c, err := client.DialTLS(s.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := c.Login(s.user, s.password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	if _, err := c.Select(inbox, true); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select %s: %w", inbox, err)
	}

	logrus.Infof("Connected to IMAP server %s", s.addr)
	s.client = c
	return c, nil
}

func (s *IMAPSource) reset() {
	if s.client != nil {
		_ = s.client.Logout()
		s.client = nil
	}
}

func formatAddress(addr *imap.Address) string {
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address())
	}
	return addr.Address()
}
