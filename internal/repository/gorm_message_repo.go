package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create persists a new message and fills its id and creation time.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = domain.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = domain.MessageTypeText
	}

	return r.db.WithContext(ctx).Create(domain.MessageToModel(msg)).Error
}

// GetByID retrieves a message by ID.
func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// MarkRead sets the read flag with a conditional update, so concurrent
// callers see exactly one transition.
func (r *GormMessageRepository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	at = at.UTC()
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": &at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListByChat pages through a chat newest first, using the message id before
// as the cursor.
func (r *GormMessageRepository) ListByChat(ctx context.Context, chatID, before string, limit int) ([]*domain.Message, error) {
	query := r.db.WithContext(ctx).Where("chat_id = ?", chatID)

	if before != "" {
		var cursor domain.MessageModel
		result := r.db.WithContext(ctx).First(&cursor, "id = ? AND chat_id = ?", before, chatID)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil, ErrMessageNotFound
			}
			return nil, result.Error
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var models []domain.MessageModel
	result := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(clampLimit(limit, 50, 200)).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	messages := make([]*domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, models[i].ToDomain())
	}
	return messages, nil
}
