package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"inquiry-relay-go/internal/metrics"
	"inquiry-relay-go/internal/model"
	"inquiry-relay-go/internal/notifier"
	"inquiry-relay-go/internal/parser"
	"inquiry-relay-go/internal/queue"
	"inquiry-relay-go/internal/repository"
)

// Reasons a listed message is not queued
const (
	SkipKnown       = "known"
	SkipQueued      = "queued"
	SkipNotInquiry  = "not_inquiry"
	SkipTestMode    = "test_mode"
	SkipFetchFailed = "fetch_failed"
)

// PollerConfig holds polling behaviour
type PollerConfig struct {
	Filter      string
	TestMode    bool
	TestSender  string
	CallTimeout time.Duration
}

// CheckResult summarises one polling cycle
type CheckResult struct {
	CycleID string         `json:"cycle_id"`
	Listed  int            `json:"listed"`
	Queued  int            `json:"queued"`
	Skipped map[string]int `json:"skipped"`
}

// Poller turns new inquiry notifications into stored, queued inquiries
type Poller struct {
	source   MailSource
	store    Store
	queue    Queue
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      PollerConfig

	mu sync.Mutex
}

// NewPoller creates a poller
func NewPoller(source MailSource, store Store, q Queue, n Notifier, m *metrics.Metrics, cfg PollerConfig) *Poller {
	return &Poller{
		source:   source,
		store:    store,
		queue:    q,
		notifier: n,
		metrics:  m,
		cfg:      cfg,
	}
}

// Check lists the mailbox once and queues every new inquiry that is neither
// stored nor already queued. A listing failure aborts the cycle and is
// reported; per-message failures only skip that message.
func (p *Poller) Check(ctx context.Context) (CheckResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := CheckResult{CycleID: uuid.NewString(), Skipped: map[string]int{}}
	log := logrus.WithField("cycle_id", result.CycleID)
	p.metrics.PollCount.Inc()

	listCtx, cancel := p.callContext(ctx)
	summaries, err := p.source.List(listCtx, p.cfg.Filter)
	cancel()
	if err != nil {
		p.metrics.PollFailures.Inc()
		log.Errorf("Failed to list inquiry notifications: %v", err)
		p.notifier.NotifyError(ctx, notifier.KindPolling, fmt.Sprintf("inquiry polling failed: %v", err))
		return result, fmt.Errorf("inquiry polling failed: %w", err)
	}
	result.Listed = len(summaries)

	for _, summary := range summaries {
		if ctx.Err() != nil {
			break
		}

		reason, err := p.checkMessage(ctx, log, summary.ID)
		if err != nil {
			log.WithField("external_id", summary.ID).Errorf("Failed to record inquiry: %v", err)
			p.notifier.NotifyError(ctx, notifier.KindStore,
				fmt.Sprintf("inquiry polling failed for message %s: %v", summary.ID, err))
			continue
		}
		if reason != "" {
			result.Skipped[reason]++
			p.metrics.InquiriesSkipped.WithLabelValues(reason).Inc()
			continue
		}
		result.Queued++
		p.metrics.InquiriesQueued.Inc()
	}

	log.WithFields(logrus.Fields{
		"listed":  result.Listed,
		"queued":  result.Queued,
		"skipped": result.Skipped,
	}).Info("Inquiry poll completed")
	return result, ctx.Err()
}

// checkMessage stores and queues one message. It returns the skip reason, or
// an empty reason when the message was queued.
func (p *Poller) checkMessage(ctx context.Context, log *logrus.Entry, id string) (string, error) {
	log = log.WithField("external_id", id)

	if p.queue.IsQueued(id) {
		return SkipQueued, nil
	}
	exists, err := p.store.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if exists {
		return SkipKnown, nil
	}

	getCtx, cancel := p.callContext(ctx)
	headers, err := p.source.Get(getCtx, id)
	cancel()
	if err != nil {
		log.Warnf("Failed to fetch notification headers, retrying next poll: %v", err)
		p.notifier.NotifyError(ctx, notifier.KindPolling, fmt.Sprintf("inquiry polling failed for message %s: %v", id, err))
		return SkipFetchFailed, nil
	}

	c := parser.Classify(headers.Subject, headers.From)
	if !c.Actionable() {
		log.WithField("type", c.Type).Debugf("Skipping notification %q", headers.Subject)
		return SkipNotInquiry, nil
	}

	if p.cfg.TestMode && !parser.MatchesSender(c.Name, p.cfg.TestSender) {
		log.Infof("Test mode: discarding inquiry from %q", c.Name)
		return SkipTestMode, nil
	}

	record := &model.InquiryRecord{
		ExternalID:    id,
		TenantName:    c.Name,
		TenantMessage: strings.TrimSpace(headers.Snippet),
		Status:        model.StatusPending,
	}
	if c.Email != "" {
		email := c.Email
		record.TenantEmail = &email
	}

	if err := p.store.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return SkipKnown, nil
		}
		return "", err
	}

	p.queue.Enqueue(queue.Item{
		ExternalID:    id,
		TenantName:    c.Name,
		TenantEmail:   c.Email,
		TenantMessage: record.TenantMessage,
	})
	log.WithField("tenant_name", c.Name).Info("New inquiry queued")
	return "", nil
}

func (p *Poller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.CallTimeout)
}
