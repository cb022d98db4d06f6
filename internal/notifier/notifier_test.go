package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingTransport) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

type panickingTransport struct{}

func (panickingTransport) Send(context.Context, Notification) error { panic("boom") }

type fakePublisher struct {
	exchange   string
	routingKey string
	message    any
}

func (f *fakePublisher) Publish(_ context.Context, exchange, routingKey string, message any) error {
	f.exchange, f.routingKey, f.message = exchange, routingKey, message
	return nil
}

func TestNotifierBuildsNotifications(t *testing.T) {
	transport := &recordingTransport{}
	n := New(transport)
	ctx := context.Background()

	n.NotifyError(ctx, KindGeneration, "generation failed for m1")
	n.NotifySuccess(ctx, "Nancy E", "Yes, we welcome well-behaved pets...")
	n.NotifyForApproval(ctx, Approval{
		ExternalID:        "m1",
		TenantName:        "Nancy E",
		TenantMessage:     "Hi, is the place pet friendly?",
		GeneratedResponse: "Yes, we welcome well-behaved pets...",
	})

	require.Len(t, transport.sent, 3)

	assert.Equal(t, TypeError, transport.sent[0].Type)
	assert.Equal(t, KindGeneration, transport.sent[0].Kind)
	assert.Equal(t, "generation failed for m1", transport.sent[0].Details)

	assert.Equal(t, TypeSuccess, transport.sent[1].Type)
	assert.Equal(t, "Nancy E", transport.sent[1].Tenant)

	assert.Equal(t, TypeApproval, transport.sent[2].Type)
	require.NotNil(t, transport.sent[2].Approval)
	assert.Equal(t, "m1", transport.sent[2].Approval.ExternalID)

	ids := map[string]bool{}
	for _, s := range transport.sent {
		assert.NotEmpty(t, s.ID)
		assert.False(t, s.CreatedAt.IsZero())
		ids[s.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestNotifierSwallowsTransportFailures(t *testing.T) {
	ctx := context.Background()

	failing := New(&recordingTransport{err: errors.New("smtp down")})
	assert.NotPanics(t, func() { failing.NotifyError(ctx, KindStore, "x") })

	panicking := New(panickingTransport{})
	assert.NotPanics(t, func() { panicking.NotifySuccess(ctx, "A", "B") })
}

func TestNotifierIgnoresCancelledCaller(t *testing.T) {
	transport := &recordingTransport{}
	n := New(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.NotifyError(ctx, KindRetryExhausted, "gave up")

	require.Len(t, transport.sent, 1)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))

	long := strings.Repeat("é", previewLength+10)
	p := Preview(long)
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.Equal(t, previewLength+3, len([]rune(p)))
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "inquiry.error.auth_expired", RoutingKey(Notification{Type: TypeError, Kind: KindAuthExpired}))
	assert.Equal(t, RoutingKeyApproval, RoutingKey(Notification{Type: TypeApproval}))
	assert.Equal(t, RoutingKeySuccess, RoutingKey(Notification{Type: TypeSuccess}))
}

func TestAMQPTransport(t *testing.T) {
	pub := &fakePublisher{}
	transport := NewAMQPTransport(pub, "inquiry")

	n := Notification{ID: "n1", Type: TypeError, Kind: KindDelivery, Details: "portal rejected reply"}
	require.NoError(t, transport.Send(context.Background(), n))

	assert.Equal(t, "inquiry", pub.exchange)
	assert.Equal(t, "inquiry.error.delivery", pub.routingKey)
	assert.Equal(t, n, pub.message)
}

func TestLogTransport(t *testing.T) {
	var transport LogTransport
	ctx := context.Background()
	assert.NoError(t, transport.Send(ctx, Notification{Type: TypeError, Kind: KindPolling}))
	assert.NoError(t, transport.Send(ctx, Notification{Type: TypeApproval}))
	assert.NoError(t, transport.Send(ctx, Notification{Type: TypeSuccess}))
}

func TestGmailBuildMessage(t *testing.T) {
	transport := NewGmailTransport(nil, "relay@example.com", "ops@example.com", "")
	transport.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	approval := Notification{
		ID:     "n2",
		Type:   TypeApproval,
		Tenant: "Nancy E",
		Approval: &Approval{
			TenantName:            "Nancy E",
			TenantMessage:         "Hi, is the place pet friendly?",
			GeneratedResponse:     "Yes, we welcome well-behaved pets...",
			ConversationReference: "conv-42",
		},
	}
	msg := transport.buildMessage(approval, transport.approvalDestination)
	assert.Contains(t, msg, "To: ops@example.com\r\n")
	assert.Contains(t, msg, "Subject: [inquiry-relay] Reply to Nancy E awaiting approval\r\n")
	assert.Contains(t, msg, "Conversation: conv-42")
	assert.Contains(t, msg, "Yes, we welcome well-behaved pets...")

	errMsg := transport.buildMessage(Notification{ID: "n3", Type: TypeError, Kind: KindAuthExpired, Details: "login page"}, "ops@example.com")
	assert.Contains(t, errMsg, "X-Notification-Kind: auth_expired")
	assert.Contains(t, errMsg, "re-authenticated manually")
}
