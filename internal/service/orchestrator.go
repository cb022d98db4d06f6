package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"inquiry-relay-go/internal/generation"
	"inquiry-relay-go/internal/metrics"
	"inquiry-relay-go/internal/model"
	"inquiry-relay-go/internal/notifier"
	"inquiry-relay-go/internal/parser"
	"inquiry-relay-go/internal/portal"
	"inquiry-relay-go/internal/queue"
	"inquiry-relay-go/internal/repository"
)

// Processing outcomes recorded in metrics
const (
	OutcomeSent      = "sent"
	OutcomeApproval  = "awaiting_approval"
	OutcomeRetry     = "retry"
	OutcomeExhausted = "exhausted"
	OutcomeDropped   = "dropped"
)

// OrchestratorConfig holds processing behaviour
type OrchestratorConfig struct {
	AutoSend    bool
	CallTimeout time.Duration
}

// Orchestrator runs one queued inquiry through extraction, generation and
// delivery or approval, and reports the result back to the queue.
type Orchestrator struct {
	store     Store
	queue     Queue
	portal    Portal
	generator Generator
	notifier  Notifier
	metrics   *metrics.Metrics
	cfg       OrchestratorConfig
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(store Store, q Queue, p Portal, g Generator, n Notifier, m *metrics.Metrics, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		store:     store,
		queue:     q,
		portal:    p,
		generator: g,
		notifier:  n,
		metrics:   m,
		cfg:       cfg,
	}
}

// processed is what the stages produced for an inquiry
type processed struct {
	tenantName    string
	tenantEmail   string
	tenantMessage string
	reference     string
	reply         string
}

// Process handles the item the queue dispatched. Every exit path completes
// or fails the item, and the portal session is released before that.
func (o *Orchestrator) Process(ctx context.Context, item queue.Item) (err error) {
	log := logrus.WithFields(logrus.Fields{
		"external_id": item.ExternalID,
		"retry_count": item.RetryCount,
	})
	log.Info("Processing inquiry")

	// a panic while finishing the record is failed like a store error so the
	// record leaves processing
	defer func() {
		if rec := recover(); rec != nil {
			err = o.fail(ctx, log, item, stageError(StageStore, fmt.Errorf("%w: %v", ErrPanic, rec)))
		}
	}()

	if err := o.store.UpdateStatus(ctx, item.ExternalID, model.StatusProcessing, ""); err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, model.ErrInvalidTransition) {
			return o.drop(ctx, log, item, err)
		}
		return o.fail(ctx, log, item, stageError(StageStore, err))
	}

	result, err := o.execute(ctx, log, item)
	if err != nil {
		return o.fail(ctx, log, item, err)
	}

	if o.cfg.AutoSend {
		if err := o.store.UpdateStatus(ctx, item.ExternalID, model.StatusSent, ""); err != nil {
			return o.fail(ctx, log, item, stageError(StageStore, err))
		}
		o.notifier.NotifySuccess(ctx, result.tenantName, result.reply)
		o.queue.Complete(item.ExternalID)
		o.metrics.Outcomes.WithLabelValues(OutcomeSent).Inc()
		log.Info("Reply delivered")
		return nil
	}

	if err := o.store.UpdateStatus(ctx, item.ExternalID, model.StatusPending, ""); err != nil {
		return o.fail(ctx, log, item, stageError(StageStore, err))
	}
	o.notifier.NotifyForApproval(ctx, notifier.Approval{
		ExternalID:            item.ExternalID,
		TenantName:            result.tenantName,
		TenantEmail:           result.tenantEmail,
		TenantMessage:         result.tenantMessage,
		GeneratedResponse:     result.reply,
		ConversationReference: result.reference,
	})
	o.queue.Complete(item.ExternalID)
	o.metrics.Outcomes.WithLabelValues(OutcomeApproval).Inc()
	log.Info("Reply awaiting approval")
	return nil
}

// execute runs the stages. The portal session opened by extraction is
// released before it returns.
func (o *Orchestrator) execute(ctx context.Context, log *logrus.Entry, item queue.Item) (result processed, err error) {
	defer o.releaseSession(ctx, log)

	stage := StageExtract
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("Recovered panic in %s stage: %v", stage, rec)
			err = stageError(stage, fmt.Errorf("%w: %v", ErrPanic, rec))
		}
	}()

	started := time.Now()
	inquiry, err := o.extract(ctx)
	o.metrics.ObserveStage(string(StageExtract), started)
	if err == nil && inquiry == nil {
		err = ErrNoInquiry
	}
	if err != nil {
		return result, stageError(StageExtract, err)
	}

	result = processed{
		tenantName:    firstNonEmpty(inquiry.TenantName, item.TenantName),
		tenantEmail:   firstNonEmpty(inquiry.TenantEmail, item.TenantEmail),
		tenantMessage: inquiry.TenantMessage,
		reference:     inquiry.ConversationReference,
	}
	o.checkIdentity(ctx, log, item, inquiry)

	update := model.ResponseUpdate{TenantMessage: &result.tenantMessage}
	if result.reference != "" {
		update.ConversationReference = &result.reference
	}
	stage = StageStore
	if err := o.store.UpdateResponse(ctx, item.ExternalID, update); err != nil {
		return result, stageError(StageStore, err)
	}

	stage = StageGenerate
	started = time.Now()
	reply, err := o.generate(ctx, result)
	o.metrics.ObserveStage(string(StageGenerate), started)
	if err != nil {
		return result, stageError(StageGenerate, err)
	}
	result.reply = reply

	stage = StageStore
	if err := o.store.UpdateResponse(ctx, item.ExternalID, model.ResponseUpdate{GeneratedResponse: &reply}); err != nil {
		return result, stageError(StageStore, err)
	}

	if !o.cfg.AutoSend {
		return result, nil
	}

	stage = StageDeliver
	started = time.Now()
	err = o.deliver(ctx, result.reference, reply)
	o.metrics.ObserveStage(string(StageDeliver), started)
	if err != nil {
		return result, stageError(StageDeliver, err)
	}
	return result, nil
}

func (o *Orchestrator) extract(ctx context.Context) (*portal.Inquiry, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.portal.ExtractLatest(callCtx)
}

func (o *Orchestrator) generate(ctx context.Context, p processed) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.generator.Generate(callCtx, generation.Request{
		TenantName:    p.tenantName,
		TenantMessage: p.tenantMessage,
		TenantEmail:   p.tenantEmail,
	})
}

func (o *Orchestrator) deliver(ctx context.Context, ref, reply string) error {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	return o.portal.Deliver(callCtx, ref, reply)
}

// checkIdentity warns when the portal's latest inquiry is not from the tenant
// the notification named. Processing continues either way.
func (o *Orchestrator) checkIdentity(ctx context.Context, log *logrus.Entry, item queue.Item, inquiry *portal.Inquiry) {
	if item.TenantName == "" || inquiry.TenantName == "" {
		return
	}
	if parser.MatchesSender(inquiry.TenantName, item.TenantName) {
		return
	}

	log.Warnf("Extracted tenant %q does not match notification tenant %q", inquiry.TenantName, item.TenantName)
	o.metrics.StageFailures.WithLabelValues(string(notifier.KindMismatch)).Inc()
	o.notifier.NotifyError(ctx, notifier.KindMismatch, fmt.Sprintf(
		"inquiry %s: notification named %q but the portal returned %q", item.ExternalID, item.TenantName, inquiry.TenantName))
}

func (o *Orchestrator) releaseSession(ctx context.Context, log *logrus.Entry) {
	releaseCtx, cancel := o.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := o.portal.ReleaseSession(releaseCtx); err != nil {
		log.Warnf("Failed to release portal session: %v", err)
	}
}

// fail records the failure, reports it and hands the item back to the queue
func (o *Orchestrator) fail(ctx context.Context, log *logrus.Entry, item queue.Item, cause error) error {
	kind := ErrorKind(cause)
	o.metrics.StageFailures.WithLabelValues(string(kind)).Inc()

	storeCtx := context.WithoutCancel(ctx)
	if err := o.store.UpdateStatus(storeCtx, item.ExternalID, model.StatusFailed, cause.Error()); err != nil {
		log.Errorf("Failed to mark inquiry failed: %v", err)
	}

	o.notifier.NotifyError(ctx, kind, fmt.Sprintf("inquiry %s (%s): %v", item.ExternalID, item.TenantName, cause))

	outcome := o.queue.Fail(item.ExternalID, cause)
	if outcome.Exhausted {
		o.metrics.Outcomes.WithLabelValues(OutcomeExhausted).Inc()
		o.notifier.NotifyError(ctx, notifier.KindRetryExhausted, fmt.Sprintf(
			"inquiry %s (%s) failed %d times and will not be retried: %v",
			item.ExternalID, item.TenantName, outcome.Item.RetryCount, cause))
	} else {
		o.metrics.Outcomes.WithLabelValues(OutcomeRetry).Inc()
	}
	return cause
}

// drop removes an item whose record cannot be processed at all
func (o *Orchestrator) drop(ctx context.Context, log *logrus.Entry, item queue.Item, cause error) error {
	log.Errorf("Dropping queued inquiry: %v", cause)
	o.metrics.Outcomes.WithLabelValues(OutcomeDropped).Inc()
	o.notifier.NotifyError(ctx, notifier.KindStore, fmt.Sprintf("inquiry %s dropped from the queue: %v", item.ExternalID, cause))
	o.queue.Complete(item.ExternalID)
	return cause
}

// Recover re-queues inquiries interrupted by a restart. Records left
// processing go back to pending; pending records without a generated reply
// are queued again. Records awaiting approval are left alone.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	interrupted, err := o.store.ListByStatus(ctx, model.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted inquiries: %w", err)
	}

	reset := make(map[string]bool, len(interrupted))
	for _, record := range interrupted {
		if err := o.store.UpdateStatus(ctx, record.ExternalID, model.StatusPending, ""); err != nil {
			return 0, fmt.Errorf("failed to reset inquiry %s: %w", record.ExternalID, err)
		}
		reset[record.ExternalID] = true
	}

	pending, err := o.store.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending inquiries: %w", err)
	}

	queued := 0
	for i := range pending {
		record := &pending[i]
		if record.AwaitingApproval() && !reset[record.ExternalID] {
			continue
		}

		item := queue.Item{
			ExternalID:    record.ExternalID,
			TenantName:    record.TenantName,
			TenantMessage: record.TenantMessage,
		}
		if record.TenantEmail != nil {
			item.TenantEmail = *record.TenantEmail
		}
		if o.queue.Enqueue(item) {
			queued++
		}
	}

	if queued > 0 {
		logrus.Infof("Recovered %d interrupted inquiries", queued)
	}
	return queued, nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.CallTimeout)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
