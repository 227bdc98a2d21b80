package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

// GormChatRepository implements ChatRepository using GORM.
type GormChatRepository struct {
	db *gorm.DB
}

// NewGormChatRepository creates a new GORM-based chat repository.
func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	return &GormChatRepository{db: db}
}

// GetByID retrieves a chat by ID.
func (r *GormChatRepository) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	var model domain.ChatModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetByPair retrieves the chat of an unordered participant pair.
func (r *GormChatRepository) GetByPair(ctx context.Context, a, b string) (*domain.Chat, error) {
	var model domain.ChatModel
	result := r.db.WithContext(ctx).First(&model, "pair_key = ?", domain.PairKey(a, b))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// Create inserts the chat of a pair. The unique pair key turns a concurrent
// second insert into ErrChatExists.
func (r *GormChatRepository) Create(ctx context.Context, a, b string) (*domain.Chat, error) {
	pair := []string{a, b}
	sort.Strings(pair)

	model := &domain.ChatModel{
		ID:           uuid.New().String(),
		ParticipantA: pair[0],
		ParticipantB: pair[1],
		PairKey:      domain.PairKey(a, b),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrChatExists
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateLastMessage moves the chat's last-message pointer.
func (r *GormChatRepository) UpdateLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.ChatModel{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": at.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// ListForUser returns the user's chats, most recently active first.
func (r *GormChatRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Chat, error) {
	var models []domain.ChatModel
	result := r.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Limit(clampLimit(limit, 50, 200)).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	chats := make([]*domain.Chat, 0, len(models))
	for i := range models {
		chats = append(chats, models[i].ToDomain())
	}
	return chats, nil
}
