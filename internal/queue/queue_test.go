package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// scriptedHandler completes items unless failures[id] is still positive
type scriptedHandler struct {
	q        *Queue
	failures map[string]int
	order    []string
}

func (h *scriptedHandler) Process(ctx context.Context, item Item) error {
	h.order = append(h.order, item.ExternalID)
	if h.failures[item.ExternalID] > 0 {
		h.failures[item.ExternalID]--
		h.q.Fail(item.ExternalID, errBoom)
		return errBoom
	}
	h.q.Complete(item.ExternalID)
	return nil
}

type sizeRecorder struct {
	mu    sync.Mutex
	sizes []int
}

func (r *sizeRecorder) QueueSize(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, size)
}

func TestEnqueueAndStatus(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &sizeRecorder{}
	q := New(3, WithClock(func() time.Time { return fixed }), WithObserver(rec))

	assert.True(t, q.Enqueue(Item{ExternalID: "m1", TenantName: "Nancy E"}))
	assert.True(t, q.Enqueue(Item{ExternalID: "m2", TenantName: "Bob"}))
	assert.False(t, q.Enqueue(Item{ExternalID: "m1", TenantName: "Nancy E"}))

	assert.True(t, q.IsQueued("m1"))
	assert.False(t, q.IsQueued("m3"))

	status := q.Status()
	assert.Equal(t, 2, status.Size)
	assert.False(t, status.IsProcessing)
	require.Len(t, status.Items, 2)
	assert.Equal(t, "m1", status.Items[0].ExternalID)
	assert.Equal(t, fixed, status.Items[0].EnqueuedAt)
	assert.Equal(t, 0, status.Items[0].RetryCount)

	status.Items[0].ExternalID = "mutated"
	assert.True(t, q.IsQueued("m1"), "status must be a copy")

	assert.Equal(t, []int{1, 2}, rec.sizes)
}

func TestDrainPreservesFIFO(t *testing.T) {
	q := New(3)
	h := &scriptedHandler{q: q}

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(Item{ExternalID: id})
	}
	q.Drain(context.Background(), h)

	assert.Equal(t, []string{"a", "b", "c"}, h.order)
	assert.Equal(t, 0, q.Status().Size)
}

func TestFailedItemMovesToTail(t *testing.T) {
	q := New(3)
	h := &scriptedHandler{q: q, failures: map[string]int{"a": 1}}

	q.Enqueue(Item{ExternalID: "a"})
	q.Enqueue(Item{ExternalID: "b"})
	q.Drain(context.Background(), h)

	assert.Equal(t, []string{"a", "b", "a"}, h.order)
	assert.Equal(t, 0, q.Status().Size)
}

func TestFailKeepsItemWithRetryCount(t *testing.T) {
	q := New(3)
	q.Enqueue(Item{ExternalID: "a"})
	q.Enqueue(Item{ExternalID: "b"})

	outcome := q.Fail("a", errBoom)
	assert.True(t, outcome.Found)
	assert.False(t, outcome.Exhausted)
	assert.Equal(t, 1, outcome.Item.RetryCount)

	status := q.Status()
	require.Len(t, status.Items, 2)
	assert.Equal(t, "b", status.Items[0].ExternalID)
	assert.Equal(t, "a", status.Items[1].ExternalID)
	assert.Equal(t, 1, status.Items[1].RetryCount)
}

func TestRetryIsBounded(t *testing.T) {
	q := New(3)
	q.Enqueue(Item{ExternalID: "a"})

	var outcomes []FailOutcome
	for i := 0; i < 5; i++ {
		outcome := q.Fail("a", errBoom)
		if outcome.Found {
			assert.LessOrEqual(t, outcome.Item.RetryCount, q.MaxRetries())
		}
		outcomes = append(outcomes, outcome)
	}

	exhausted := 0
	for _, o := range outcomes {
		if o.Exhausted {
			exhausted++
			assert.Equal(t, 3, o.Item.RetryCount)
		}
	}
	assert.Equal(t, 1, exhausted, "item must be removed exactly once")
	assert.True(t, outcomes[2].Exhausted)
	assert.False(t, outcomes[3].Found)
	assert.False(t, q.IsQueued("a"))
}

func TestDrainAlwaysFailingItem(t *testing.T) {
	q := New(3)
	h := &scriptedHandler{q: q, failures: map[string]int{"a": 100}}

	q.Enqueue(Item{ExternalID: "a"})
	q.Drain(context.Background(), h)

	assert.Equal(t, []string{"a", "a", "a"}, h.order)
	assert.Equal(t, 0, q.Status().Size)
}

func TestUnknownIDsAreIgnored(t *testing.T) {
	q := New(3)
	q.Enqueue(Item{ExternalID: "a"})

	assert.NotPanics(t, func() { q.Complete("missing") })
	outcome := q.Fail("missing", errBoom)
	assert.False(t, outcome.Found)
	assert.Equal(t, 1, q.Status().Size)

	q.Complete("a")
	assert.NotPanics(t, func() { q.Complete("a") })
	assert.Equal(t, 0, q.Status().Size)
}

func TestHandlerWithoutOutcomeIsFailed(t *testing.T) {
	q := New(2)
	calls := 0
	h := HandlerFunc(func(ctx context.Context, item Item) error {
		calls++
		return nil
	})

	q.Enqueue(Item{ExternalID: "a"})
	q.Drain(context.Background(), h)

	assert.Equal(t, 2, calls)
	assert.False(t, q.IsQueued("a"))
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	q := New(1)
	h := HandlerFunc(func(ctx context.Context, item Item) error {
		panic("browser crashed")
	})

	q.Enqueue(Item{ExternalID: "a"})
	q.Enqueue(Item{ExternalID: "b"})

	var done []string
	next := HandlerFunc(func(ctx context.Context, item Item) error {
		done = append(done, item.ExternalID)
		q.Complete(item.ExternalID)
		return nil
	})

	assert.NotPanics(t, func() {
		item, ok := q.next()
		require.True(t, ok)
		q.dispatch(context.Background(), h, item)
	})
	assert.False(t, q.IsQueued("a"))

	q.Drain(context.Background(), next)
	assert.Equal(t, []string{"b"}, done)
}

func TestStatusWhileProcessing(t *testing.T) {
	q := New(3)
	q.Enqueue(Item{ExternalID: "a"})
	q.Enqueue(Item{ExternalID: "b"})

	var seen Status
	h := HandlerFunc(func(ctx context.Context, item Item) error {
		if item.ExternalID == "a" {
			seen = q.Status()
		}
		q.Complete(item.ExternalID)
		return nil
	})
	q.Drain(context.Background(), h)

	assert.True(t, seen.IsProcessing)
	assert.Equal(t, "a", seen.ProcessingID)
	assert.NotNil(t, seen.ProcessingSince)
	assert.Equal(t, 2, seen.Size)
	assert.False(t, q.Status().IsProcessing)
}

func TestRunProcessesOneAtATime(t *testing.T) {
	q := New(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		done    = make(chan string, 10)
	)
	h := HandlerFunc(func(ctx context.Context, item Item) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()

		q.Complete(item.ExternalID)
		done <- item.ExternalID
		return nil
	})

	go q.Run(ctx, h)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			q.Enqueue(Item{ExternalID: id})
		}(id)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen)
}

func TestDrainStopsOnCancelledContext(t *testing.T) {
	q := New(3)
	q.Enqueue(Item{ExternalID: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	q.Drain(ctx, HandlerFunc(func(ctx context.Context, item Item) error {
		called = true
		return nil
	}))
	assert.False(t, called)
	assert.True(t, q.IsQueued("a"))
}
