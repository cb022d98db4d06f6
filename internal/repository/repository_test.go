package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inquiry-relay-go/internal/database"
	"inquiry-relay-go/internal/model"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.RunMigrations(db))
	return New(db)
}

func pendingRecord(id, name string) *model.InquiryRecord {
	return &model.InquiryRecord{
		ExternalID:    id,
		TenantName:    name,
		TenantMessage: "New inquiry from " + name,
		Status:        model.StatusPending,
	}
}

func TestInsertIsUniqueByExternalID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, pendingRecord("m1", "Nancy E")))

	for i := 0; i < 3; i++ {
		err := repo.Insert(ctx, pendingRecord("m1", "Someone Else"))
		assert.True(t, errors.Is(err, ErrDuplicate))
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)

	record, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Nancy E", record.TenantName)
	assert.False(t, record.CreatedAt.IsZero())
	assert.Nil(t, record.ProcessedAt)
}

func TestInsertDefaultsToPending(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &model.InquiryRecord{ExternalID: "m2", TenantName: "Bob"}))
	record, err := repo.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, record.Status)

	assert.Error(t, repo.Insert(ctx, &model.InquiryRecord{TenantName: "No ID"}))
}

func TestExists(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	exists, err := repo.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Insert(ctx, pendingRecord("m1", "Nancy E")))

	exists, err = repo.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateStatusFollowsLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, pendingRecord("m1", "Nancy E")))

	require.NoError(t, repo.UpdateStatus(ctx, "m1", model.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus(ctx, "m1", model.StatusFailed, "generation: upstream 529"))

	record, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, "generation: upstream 529", *record.Error)
	require.NotNil(t, record.ProcessedAt)

	require.NoError(t, repo.UpdateStatus(ctx, "m1", model.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus(ctx, "m1", model.StatusSent, ""))

	record, err = repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, record.Status)
	assert.Nil(t, record.Error)

	err = repo.UpdateStatus(ctx, "m1", model.StatusProcessing, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	record, err = repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, record.Status)
}

func TestUpdateStatusSetsProcessedAt(t *testing.T) {
	repo := newTestRepository(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, pendingRecord("m1", "Nancy E")))
	require.NoError(t, repo.UpdateStatus(ctx, "m1", model.StatusProcessing, ""))

	record, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, record.ProcessedAt)
	assert.True(t, fixed.Equal(record.ProcessedAt.UTC()))
}

func TestUpdateStatusUnknownInquiry(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.UpdateStatus(context.Background(), "missing", model.StatusProcessing, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateResponse(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, pendingRecord("m1", "Nancy E")))

	message := "Hi, is the place pet friendly?"
	ref := "conv-42"
	require.NoError(t, repo.UpdateResponse(ctx, "m1", model.ResponseUpdate{
		TenantMessage:         &message,
		ConversationReference: &ref,
	}))

	reply := "Yes, we welcome well-behaved pets..."
	require.NoError(t, repo.UpdateResponse(ctx, "m1", model.ResponseUpdate{GeneratedResponse: &reply}))

	record, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, message, record.TenantMessage)
	require.NotNil(t, record.ConversationReference)
	assert.Equal(t, ref, *record.ConversationReference)
	require.NotNil(t, record.GeneratedResponse)
	assert.Equal(t, reply, *record.GeneratedResponse)

	assert.NoError(t, repo.UpdateResponse(ctx, "m1", model.ResponseUpdate{}))
	assert.True(t, errors.Is(repo.UpdateResponse(ctx, "missing", model.ResponseUpdate{GeneratedResponse: &reply}), ErrNotFound))
}

func TestRecentAndStats(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, repo.Insert(ctx, pendingRecord(fmt.Sprintf("m%d", i), "Tenant")))
	}
	require.NoError(t, repo.UpdateStatus(ctx, "m1", model.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus(ctx, "m1", model.StatusSent, ""))
	require.NoError(t, repo.UpdateStatus(ctx, "m2", model.StatusProcessing, ""))

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m4", recent[0].ExternalID)
	assert.Equal(t, "m3", recent[1].ExternalID)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(4), stats.Total)

	processing, err := repo.ListByStatus(ctx, model.StatusProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, "m2", processing[0].ExternalID)

	assert.NoError(t, repo.Ping(ctx))
}
