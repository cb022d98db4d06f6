package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inquiry-relay-go/internal/model"
)

var (
	// ErrDuplicate is returned when an inquiry with the same external id already exists
	ErrDuplicate = errors.New("inquiry already exists")
	// ErrNotFound is returned when no inquiry matches the external id
	ErrNotFound = errors.New("inquiry not found")
)

// Repository is the gorm backed inquiry store
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a repository on top of an initialized database
func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Insert stores a new inquiry. A record with the same external id is never
// duplicated; ErrDuplicate is returned instead.
func (r *Repository) Insert(ctx context.Context, record *model.InquiryRecord) error {
	if record.ExternalID == "" {
		return fmt.Errorf("external id is required")
	}
	if record.Status == "" {
		record.Status = model.StatusPending
	}
	if !record.Status.Valid() {
		return fmt.Errorf("invalid status %q", record.Status)
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return fmt.Errorf("failed to insert inquiry %s: %w", record.ExternalID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// Exists checks whether an inquiry with the external id has been recorded
func (r *Repository) Exists(ctx context.Context, externalID string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&model.InquiryRecord{}).
		Where("external_id = ?", externalID).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("database error checking inquiry: %w", result.Error)
	}
	return count > 0, nil
}

// Get returns the inquiry with the external id
func (r *Repository) Get(ctx context.Context, externalID string) (*model.InquiryRecord, error) {
	var record model.InquiryRecord
	result := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get inquiry %s: %w", externalID, result.Error)
	}
	return &record, nil
}

// UpdateStatus moves an inquiry to a new status. The change must be a valid
// lifecycle transition. errMsg is recorded for failures and cleared otherwise.
func (r *Repository) UpdateStatus(ctx context.Context, externalID string, status model.Status, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record model.InquiryRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("external_id = ?", externalID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load inquiry %s: %w", externalID, err)
		}

		if err := model.CheckTransition(record.Status, status); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":       status,
			"processed_at": r.now(),
			"error":        nil,
		}
		if errMsg != "" {
			updates["error"] = errMsg
		}

		if err := tx.Model(&record).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update inquiry %s status: %w", externalID, err)
		}
		return nil
	})
}

// UpdateResponse writes the extracted message, conversation reference and
// generated response fields that are set in the update
func (r *Repository) UpdateResponse(ctx context.Context, externalID string, update model.ResponseUpdate) error {
	updates := map[string]interface{}{}
	if update.TenantMessage != nil {
		updates["tenant_message"] = *update.TenantMessage
	}
	if update.ConversationReference != nil {
		updates["conversation_reference"] = *update.ConversationReference
	}
	if update.GeneratedResponse != nil {
		updates["generated_response"] = *update.GeneratedResponse
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&model.InquiryRecord{}).
		Where("external_id = ?", externalID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update inquiry %s: %w", externalID, result.Error)
	}
	if result.RowsAffected == 0 {
		// mysql reports zero affected rows when the values did not change
		exists, err := r.Exists(ctx, externalID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// Recent returns the n most recently created inquiries
func (r *Repository) Recent(ctx context.Context, n int) ([]model.InquiryRecord, error) {
	if n <= 0 {
		n = 50
	}
	var records []model.InquiryRecord
	result := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(n).Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get recent inquiries: %w", result.Error)
	}
	return records, nil
}

// ListByStatus returns every inquiry in the status, oldest first
func (r *Repository) ListByStatus(ctx context.Context, status model.Status) ([]model.InquiryRecord, error) {
	var records []model.InquiryRecord
	result := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Order("id ASC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list %s inquiries: %w", status, result.Error)
	}
	return records, nil
}

// Stats returns inquiry counts per status
func (r *Repository) Stats(ctx context.Context) (model.StatusStats, error) {
	var rows []struct {
		Status model.Status
		Count  int64
	}
	result := r.db.WithContext(ctx).Model(&model.InquiryRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows)

	var stats model.StatusStats
	if result.Error != nil {
		return stats, fmt.Errorf("failed to get inquiry stats: %w", result.Error)
	}
	for _, row := range rows {
		stats.Add(row.Status, row.Count)
	}
	return stats, nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
