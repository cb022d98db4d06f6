// Package queue holds inquiries waiting to be processed. At most one item is
// handed to the handler at a time; failed items are retried from the tail until
// they reach the retry limit.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoOutcome is recorded when a handler returns without completing or failing its item
	ErrNoOutcome = errors.New("handler returned without completing or failing the item")
	// ErrHandlerPanic is recorded when a handler panics while processing an item
	ErrHandlerPanic = errors.New("handler panicked")
)

// Item is an inquiry waiting for processing
type Item struct {
	ExternalID    string    `json:"external_id"`
	TenantName    string    `json:"tenant_name"`
	TenantEmail   string    `json:"tenant_email,omitempty"`
	TenantMessage string    `json:"tenant_message"`
	RetryCount    int       `json:"retry_count"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Handler processes the item the queue dispatches. It must call Complete or
// Fail for that item before returning.
type Handler interface {
	Process(ctx context.Context, item Item) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, item Item) error

// Process calls f(ctx, item)
func (f HandlerFunc) Process(ctx context.Context, item Item) error {
	return f(ctx, item)
}

// FailOutcome describes what Fail did with an item
type FailOutcome struct {
	Found     bool
	Item      Item
	Exhausted bool
}

// Status is a read-only snapshot of the queue
type Status struct {
	Size            int        `json:"size"`
	IsProcessing    bool       `json:"is_processing"`
	ProcessingID    string     `json:"processing_id,omitempty"`
	ProcessingSince *time.Time `json:"processing_since,omitempty"`
	Items           []Item     `json:"items"`
}

// Observer receives queue size changes, used for metrics
type Observer interface {
	QueueSize(size int)
}

// Option configures a Queue
type Option func(*Queue)

// WithObserver reports size changes to o
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is an in-memory FIFO with a single in-flight item
type Queue struct {
	mu         sync.Mutex
	items      []Item
	maxRetries int

	// inFlight is the id handed to the handler and not yet completed or failed
	inFlight      string
	inFlightSince time.Time

	wake     chan struct{}
	observer Observer
	now      func() time.Time
}

// New creates a queue that removes an item after maxRetries failures
func New(maxRetries int, opts ...Option) *Queue {
	if maxRetries < 1 {
		maxRetries = 1
	}
	q := &Queue{
		maxRetries: maxRetries,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// MaxRetries returns the retry limit
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue appends an item to the tail and wakes the dispatcher. Enqueueing an
// id that is already queued is a no-op and returns false.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	if q.indexOf(item.ExternalID) >= 0 {
		q.mu.Unlock()
		logrus.Debugf("Inquiry %s already queued, skipping enqueue", item.ExternalID)
		return false
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}
	q.items = append(q.items, item)
	size := len(q.items)
	q.mu.Unlock()

	logrus.WithFields(logrus.Fields{"external_id": item.ExternalID, "queue_size": size}).Info("Inquiry enqueued")
	q.observe(size)
	q.signal()
	return true
}

// IsQueued reports whether the id is in the queue, including the item being processed
func (q *Queue) IsQueued(externalID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(externalID) >= 0
}

// Status returns a snapshot of the queue
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := Status{
		Size:         len(q.items),
		IsProcessing: q.inFlight != "",
		ProcessingID: q.inFlight,
		Items:        make([]Item, len(q.items)),
	}
	copy(status.Items, q.items)
	if q.inFlight != "" {
		since := q.inFlightSince
		status.ProcessingSince = &since
	}
	return status
}

// Complete removes the item and resumes dispatching. Unknown ids are ignored
// with a warning.
func (q *Queue) Complete(externalID string) {
	q.mu.Lock()
	idx := q.indexOf(externalID)
	if idx < 0 {
		q.mu.Unlock()
		logrus.Warnf("Complete called for inquiry %s which is not queued", externalID)
		return
	}
	q.removeAt(idx)
	q.release(externalID)
	size := len(q.items)
	q.mu.Unlock()

	logrus.WithFields(logrus.Fields{"external_id": externalID, "queue_size": size}).Info("Inquiry completed")
	q.observe(size)
	q.signal()
}

// Fail records a failed attempt. Below the retry limit the item moves to the
// tail; at the limit it is removed and the outcome is marked exhausted.
// Unknown ids are ignored with a warning.
func (q *Queue) Fail(externalID string, cause error) FailOutcome {
	q.mu.Lock()
	idx := q.indexOf(externalID)
	if idx < 0 {
		q.mu.Unlock()
		logrus.Warnf("Fail called for inquiry %s which is not queued: %v", externalID, cause)
		return FailOutcome{}
	}

	item := q.items[idx]
	item.RetryCount++
	q.removeAt(idx)

	outcome := FailOutcome{Found: true, Item: item}
	if item.RetryCount >= q.maxRetries {
		outcome.Exhausted = true
	} else {
		q.items = append(q.items, item)
	}
	q.release(externalID)
	size := len(q.items)
	q.mu.Unlock()

	fields := logrus.Fields{
		"external_id": externalID,
		"retry_count": item.RetryCount,
		"max_retries": q.maxRetries,
	}
	if outcome.Exhausted {
		logrus.WithFields(fields).Errorf("Inquiry removed after exhausting retries: %v", cause)
	} else {
		logrus.WithFields(fields).Warnf("Inquiry failed, moved to the back of the queue: %v", cause)
	}

	q.observe(size)
	q.signal()
	return outcome
}

// Run dispatches items to h until ctx is cancelled
func (q *Queue) Run(ctx context.Context, h Handler) {
	logrus.Info("Inquiry queue started")
	for {
		q.Drain(ctx, h)

		select {
		case <-ctx.Done():
			logrus.Info("Inquiry queue stopped")
			return
		case <-q.wake:
		}
	}
}

// Drain dispatches items to h one at a time until the queue is empty or ctx
// is cancelled
func (q *Queue) Drain(ctx context.Context, h Handler) {
	for ctx.Err() == nil {
		item, ok := q.next()
		if !ok {
			return
		}
		q.dispatch(ctx, h, item)
	}
}

// next peeks the head and marks it in flight
func (q *Queue) next() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight != "" || len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.inFlight = item.ExternalID
	q.inFlightSince = q.now()
	return item, true
}

func (q *Queue) dispatch(ctx context.Context, h Handler, item Item) {
	err := q.invoke(ctx, h, item)
	if err != nil {
		logrus.WithField("external_id", item.ExternalID).Errorf("Inquiry processing failed: %v", err)
	}

	q.mu.Lock()
	stillInFlight := q.inFlight == item.ExternalID
	q.mu.Unlock()
	if !stillInFlight {
		return
	}

	cause := ErrNoOutcome
	if err != nil {
		cause = fmt.Errorf("%w: %v", ErrNoOutcome, err)
	}
	q.Fail(item.ExternalID, cause)
}

func (q *Queue) invoke(ctx context.Context, h Handler, item Item) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return h.Process(ctx, item)
}

func (q *Queue) indexOf(externalID string) int {
	for i := range q.items {
		if q.items[i].ExternalID == externalID {
			return i
		}
	}
	return -1
}

func (q *Queue) removeAt(idx int) {
	q.items = append(q.items[:idx], q.items[idx+1:]...)
}

// release clears the in-flight marker when the signalled item is the dispatched one
func (q *Queue) release(externalID string) {
	if q.inFlight == externalID {
		q.inFlight = ""
		q.inFlightSince = time.Time{}
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) observe(size int) {
	if q.observer != nil {
		q.observer.QueueSize(size)
	}
}
