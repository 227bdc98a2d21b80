package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

// GormCallHistoryRepository implements CallHistoryRepository using GORM.
type GormCallHistoryRepository struct {
	db *gorm.DB
}

// NewGormCallHistoryRepository creates a new GORM-based call history
// repository.
func NewGormCallHistoryRepository(db *gorm.DB) *GormCallHistoryRepository {
	return &GormCallHistoryRepository{db: db}
}

// Create appends a record. A second record for the same channel id is
// ignored, which makes redelivered history events harmless.
func (r *GormCallHistoryRepository) Create(ctx context.Context, record *domain.CallHistory) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if err := r.db.WithContext(ctx).Create(domain.CallHistoryToModel(record)).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// ExistsByChannel reports whether channelID already has a record.
func (r *GormCallHistoryRepository) ExistsByChannel(ctx context.Context, channelID string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&domain.CallHistoryModel{}).
		Where("channel_id = ?", channelID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// ListForUser returns calls the user took part in, most recent first.
func (r *GormCallHistoryRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.CallHistory, error) {
	var models []domain.CallHistoryModel
	result := r.db.WithContext(ctx).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Order("ended_at DESC").
		Limit(clampLimit(limit, 50, 200)).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	records := make([]*domain.CallHistory, 0, len(models))
	for i := range models {
		records = append(records, models[i].ToDomain())
	}
	return records, nil
}
