package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inquiry-relay-go/internal/config"
	"inquiry-relay-go/internal/database"
	"inquiry-relay-go/internal/generation"
	"inquiry-relay-go/internal/mail"
	"inquiry-relay-go/internal/metrics"
	"inquiry-relay-go/internal/notifier"
	"inquiry-relay-go/internal/portal"
	"inquiry-relay-go/internal/repository"
)

type mockPortal struct {
	mock.Mock
}

func (m *mockPortal) ExtractLatest(ctx context.Context) (*portal.Inquiry, error) {
	args := m.Called(ctx)
	inquiry, _ := args.Get(0).(*portal.Inquiry)
	return inquiry, args.Error(1)
}

func (m *mockPortal) Deliver(ctx context.Context, ref, text string) error {
	return m.Called(ctx, ref, text).Error(0)
}

func (m *mockPortal) ReleaseSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type sentError struct {
	kind    notifier.Kind
	details string
}

type recordingNotifier struct {
	mu        sync.Mutex
	errors    []sentError
	successes []string
	approvals []notifier.Approval
}

func (r *recordingNotifier) NotifyError(_ context.Context, kind notifier.Kind, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, sentError{kind: kind, details: details})
}

func (r *recordingNotifier) NotifySuccess(_ context.Context, tenant, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, tenant)
}

func (r *recordingNotifier) NotifyForApproval(_ context.Context, approval notifier.Approval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals = append(r.approvals, approval)
}

func (r *recordingNotifier) errorsOf(kind notifier.Kind) []sentError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentError
	for _, e := range r.errors {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeSource struct {
	summaries []mail.Summary
	headers   map[string]*mail.Headers
	listErr   error
	getErr    map[string]error
	gets      int
}

func (f *fakeSource) List(_ context.Context, _ string) ([]mail.Summary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.summaries, nil
}

func (f *fakeSource) Get(_ context.Context, id string) (*mail.Headers, error) {
	f.gets++
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	h, ok := f.headers[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return h, nil
}

func (f *fakeSource) add(id, subject, from string) {
	if f.headers == nil {
		f.headers = map[string]*mail.Headers{}
	}
	f.summaries = append(f.summaries, mail.Summary{ID: id})
	f.headers[id] = &mail.Headers{ID: id, Subject: subject, From: from, Snippet: "snippet for " + id}
}

func newTestStore(t *testing.T) *repository.Repository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.InitDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return repository.New(db)
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}
